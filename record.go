package airlock

import "encoding/json"

// Record is a single row-like entity in the upstream service. The ID is
// immutable once created; Fields are only mutated by the upstream service.
type Record struct {
	ID          string         `json:"id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	CreatedTime string         `json:"createdTime,omitempty"`
}

// RecordSet is an ordered sequence of records. Order is preserved through
// access filtering.
type RecordSet struct {
	Records []Record `json:"records"`
}

// IsZero reports whether the record carries neither identity nor fields.
func (r Record) IsZero() bool {
	return r.ID == "" && len(r.Fields) == 0
}

// Clone returns a deep copy so transforms never alias the original field map.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, CreatedTime: r.CreatedTime}
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// WithoutFields returns a copy of the record with the named columns removed.
func (r Record) WithoutFields(columns ...string) Record {
	out := r.Clone()
	for _, column := range columns {
		delete(out.Fields, column)
	}
	return out
}

// recordFromDoc extracts a Record from a decoded JSON object. Unknown keys
// are ignored; the upstream record shape is id/fields/createdTime.
func recordFromDoc(doc map[string]any) Record {
	rec := Record{}
	if id, ok := doc["id"].(string); ok {
		rec.ID = id
	}
	if fields, ok := doc["fields"].(map[string]any); ok {
		rec.Fields = fields
	}
	if created, ok := doc["createdTime"].(string); ok {
		rec.CreatedTime = created
	}
	return rec
}

// recordToDoc converts a Record back into the generic document shape used
// when reassembling payloads.
func recordToDoc(rec Record) map[string]any {
	doc := map[string]any{}
	if rec.ID != "" {
		doc["id"] = rec.ID
	}
	if rec.Fields != nil {
		doc["fields"] = rec.Fields
	}
	if rec.CreatedTime != "" {
		doc["createdTime"] = rec.CreatedTime
	}
	return doc
}

// recordsFromDoc normalizes a decoded payload into its records plus a flag
// for whether the payload addressed multiple records. A document without a
// "records" array is treated as a single bare record.
func recordsFromDoc(doc map[string]any) ([]Record, bool) {
	raw, ok := doc["records"].([]any)
	if !ok {
		return []Record{recordFromDoc(doc)}, false
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			records = append(records, recordFromDoc(entry))
		}
	}
	return records, true
}

func decodeDoc(payload []byte) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
