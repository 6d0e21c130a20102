package airlock

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// HandleTable runs the proxied-resource pipeline: hydrate id-only write
// payloads, filter the request records, forward (cache-aware), then filter
// the response before it reaches the client.
func (a *Airlock) HandleTable(c *fiber.Ctx) error {
	ctx := c.UserContext()
	method := c.Method()
	uri := c.OriginalURL()
	params := paramsFromCtx(c)
	op := OperationForMethod(method)
	user, _ := localUser(c)

	preq := &ProxyRequest{
		Method:      method,
		URI:         uri,
		ContentType: contentTypeOf(c),
	}

	if method == fiber.MethodDelete {
		rewritten, denied, multiple, err := a.filterDelete(ctx, uri, params, user)
		if err != nil {
			return err
		}
		if denied {
			return a.sendEmpty(c, multiple)
		}
		preq.URI = rewritten
	}

	if method != fiber.MethodGet {
		if a.engine.HasResolver(params.table) {
			body, err := a.prepareBody(ctx, c, params)
			if err != nil {
				return err
			}
			if body != nil {
				filtered := a.engine.FilterRecords(ctx, params.table, op, body.records, user)

				// a fully denied write never reaches upstream
				if len(filtered) == 0 && len(body.records) > 0 {
					return a.sendEmpty(c, body.multiple)
				}
				preq.Body = body.flatten(filtered)
			}
		}

		// no structured rewrite applies: relay the client bytes untouched
		if preq.Body == nil {
			preq.RawBody = c.Body()
		}
	}

	result, err := a.proxy.Forward(ctx, preq)
	if err != nil {
		return err
	}

	// non-200 outcomes are the error path: relay the decoded error payload
	// without filtering or caching it
	if !result.OK() {
		c.Set(fiber.HeaderContentType, result.ContentType)
		return c.Status(result.StatusCode).SendString(result.Payload)
	}

	if !strings.Contains(result.ContentType, "json") {
		c.Set(fiber.HeaderContentType, result.ContentType)
		return c.SendString(result.Payload)
	}

	doc, err := decodeDoc([]byte(result.Payload))
	if err != nil {
		return &GatewayError{Message: "upstream returned malformed payload", Cause: err}
	}

	filtered, err := a.engine.FilterDoc(ctx, params.table, op, doc, user)
	if err != nil {
		return err
	}
	if filtered == nil {
		_, multiple := recordsFromDoc(doc)
		return a.sendEmpty(c, multiple)
	}

	c.Set(fiber.HeaderContentType, result.ContentType)
	return c.JSON(filtered)
}

// filterDelete applies the write-side resolver to DELETE requests addressing
// records outside the body: the :recordId route segment or records[] query
// params. The returned URI carries only the permitted subset; denied reports
// that nothing survived, so the request must not reach upstream at all. A
// record that cannot be hydrated cannot be evaluated and counts as denied.
func (a *Airlock) filterDelete(ctx context.Context, uri string, params tableParams, user Record) (rewritten string, denied bool, multiple bool, err error) {
	if !a.engine.HasResolver(params.table) {
		return uri, false, false, nil
	}

	if params.recordID != "" {
		full, err := a.upstream.FetchRecordsByIDs(ctx, params.version, params.table, []string{params.recordID})
		if err != nil {
			return "", false, false, err
		}
		filtered := a.engine.FilterRecords(ctx, params.table, OperationWrite, full, user)
		if len(filtered) == 0 {
			return "", true, false, nil
		}
		return uri, false, false, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return uri, false, false, nil
	}

	query := parsed.Query()
	ids := query["records[]"]
	if len(ids) == 0 {
		return uri, false, false, nil
	}

	full, err := a.upstream.FetchRecordsByIDs(ctx, params.version, params.table, ids)
	if err != nil {
		return "", false, true, err
	}

	filtered := a.engine.FilterRecords(ctx, params.table, OperationWrite, full, user)
	if len(filtered) == 0 {
		return "", true, true, nil
	}

	query.Del("records[]")
	for _, rec := range filtered {
		query.Add("records[]", rec.ID)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), false, true, nil
}

// sendEmpty degrades a fully denied payload to its empty shape: an empty set
// for multi-record requests, an empty body for single-record ones.
func (a *Airlock) sendEmpty(c *fiber.Ctx, multiple bool) error {
	if multiple {
		return c.JSON(RecordSet{Records: []Record{}})
	}
	return c.SendStatus(fiber.StatusOK)
}

// tableParams captures the proxied route segments.
type tableParams struct {
	version  string
	table    string
	recordID string
}

func paramsFromCtx(c *fiber.Ctx) tableParams {
	return tableParams{
		version:  c.Params("version"),
		table:    c.Params("tableName"),
		recordID: c.Params("recordId"),
	}
}

// hydratedBody is the request payload after normalization: the records under
// evaluation plus enough bookkeeping to flatten id-only entries back before
// forwarding.
type hydratedBody struct {
	doc      map[string]any
	records  []Record
	multiple bool
	idOnly   map[string]bool
}

func (a *Airlock) prepareBody(ctx context.Context, c *fiber.Ctx, params tableParams) (*hydratedBody, error) {
	if len(c.Body()) == 0 || !strings.Contains(contentTypeOf(c), "json") {
		return nil, nil
	}

	doc, err := decodeDoc(c.Body())
	if err != nil {
		return nil, NewInputError("Malformed JSON body")
	}

	records, multiple := recordsFromDoc(doc)

	body := &hydratedBody{
		doc:      doc,
		records:  records,
		multiple: multiple,
		idOnly:   map[string]bool{},
	}

	// collect records addressed by id alone; write-side resolvers need the
	// live fields to evaluate them
	var ids []string
	for _, rec := range records {
		if rec.ID != "" && len(rec.Fields) == 0 {
			ids = append(ids, rec.ID)
			body.idOnly[rec.ID] = true
		}
	}
	if len(ids) == 0 {
		return body, nil
	}

	full, err := a.upstream.FetchRecordsByIDs(ctx, params.version, params.table, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Record, len(full))
	for _, rec := range full {
		byID[rec.ID] = rec
	}
	for i, rec := range records {
		if hydrated, ok := byID[rec.ID]; body.idOnly[rec.ID] && ok {
			records[i] = hydrated
		}
	}
	return body, nil
}

// flatten rebuilds the outbound document from the filtered records,
// reducing hydrated entries back to the id-only shape the upstream write API
// expects. Top-level keys other than "records" survive untouched.
func (b *hydratedBody) flatten(filtered []Record) any {
	if b.multiple {
		docs := make([]any, 0, len(filtered))
		for _, rec := range filtered {
			if b.idOnly[rec.ID] {
				docs = append(docs, map[string]any{"id": rec.ID})
				continue
			}
			docs = append(docs, recordToDoc(rec))
		}
		b.doc["records"] = docs
		return b.doc
	}

	if len(filtered) == 0 {
		return nil
	}
	rec := filtered[0]
	if b.idOnly[rec.ID] {
		return map[string]any{"id": rec.ID}
	}

	// rebuild the record keys in place so top-level options like typecast
	// survive the round trip
	delete(b.doc, "id")
	delete(b.doc, "fields")
	delete(b.doc, "createdTime")
	for key, value := range recordToDoc(rec) {
		b.doc[key] = value
	}
	return b.doc
}

func contentTypeOf(c *fiber.Ctx) string {
	contentType := c.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = fiber.MIMEApplicationJSON
	}
	return contentType
}
