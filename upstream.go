package airlock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultUpstreamBaseURL is the official tabular-data API endpoint.
const DefaultUpstreamBaseURL = "https://api.airtable.com"

const (
	upstreamTimeout  = 5 * time.Second
	apiVersionHeader = "0.1.0"
	userAgent        = "airlock-gateway"
)

// keyRing rotates across a set of upstream API keys, one step per request.
type keyRing struct {
	keys []string
	next atomic.Uint64
}

func newKeyRing(keys []string) *keyRing {
	return &keyRing{keys: keys}
}

func (k *keyRing) pick() string {
	if len(k.keys) == 1 {
		return k.keys[0]
	}
	n := k.next.Add(1)
	return k.keys[int(n-1)%len(k.keys)]
}

// upstreamError is the error envelope the upstream API returns.
type upstreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type upstreamEnvelope struct {
	Records []Record       `json:"records"`
	Error   *upstreamError `json:"error"`
}

// UpstreamClient talks to the upstream tabular-data API on behalf of the
// gateway: user lookup and creation for the auth pipeline, and bulk
// record fetches for write-side hydration.
type UpstreamClient struct {
	baseURL        string
	keys           *keyRing
	baseID         string
	userTable      string
	usernameColumn string
	httpClient     *http.Client
	logger         Logger
}

func NewUpstreamClient(opts Options) *UpstreamClient {
	baseURL := opts.UpstreamBaseURL
	if baseURL == "" {
		baseURL = DefaultUpstreamBaseURL
	}

	return &UpstreamClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		keys:           newKeyRing(opts.APIKeys),
		baseID:         opts.BaseID,
		userTable:      opts.UserTableName,
		usernameColumn: opts.UsernameColumn,
		httpClient:     &http.Client{Timeout: upstreamTimeout},
		logger:         opts.logger(),
	}
}

// usersURL builds the user-table resource URL with optional query params.
func (u *UpstreamClient) usersURL(query url.Values) string {
	endpoint := fmt.Sprintf("%s/v0/%s/%s", u.baseURL, u.baseID, url.PathEscape(u.userTable))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

func (u *UpstreamClient) tableURL(version, table string, query url.Values) string {
	endpoint := fmt.Sprintf("%s/%s/%s/%s", u.baseURL, version, u.baseID, url.PathEscape(table))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

// FindUserByUsername queries the user table with a filterByFormula match on
// the configured username column. Absence is a valid state, not an error.
func (u *UpstreamClient) FindUserByUsername(ctx context.Context, username string) (Record, bool, error) {
	query := url.Values{}
	query.Set("filterByFormula", fmt.Sprintf("%s=%q", u.usernameColumn, username))

	envelope, err := u.do(ctx, http.MethodGet, u.usersURL(query), nil)
	if err != nil {
		return Record{}, false, err
	}

	if len(envelope.Records) == 0 {
		return Record{}, false, nil
	}
	return envelope.Records[0], true, nil
}

// CreateUser creates a record in the user table with the given fields.
func (u *UpstreamClient) CreateUser(ctx context.Context, fields map[string]any) (Record, error) {
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return Record{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.usersURL(nil), bytes.NewReader(body))
	if err != nil {
		return Record{}, err
	}
	u.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	res, err := u.httpClient.Do(req)
	if err != nil {
		return Record{}, &GatewayError{Message: "upstream create user failed", Cause: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return Record{}, &GatewayError{Message: "upstream create user failed", Cause: err}
	}

	var rec struct {
		Record
		Error *upstreamError `json:"error"`
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, &GatewayError{Message: "upstream create user returned malformed payload", Cause: err}
	}
	if rec.Error != nil {
		return Record{}, fmt.Errorf("[upstream error: %s] %s", rec.Error.Type, rec.Error.Message)
	}
	if res.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("upstream create user returned status %d", res.StatusCode)
	}

	return rec.Record, nil
}

// FetchRecordsByIDs fetches full records for a set of record IDs in a single
// request using an OR() of RECORD_ID() comparisons.
func (u *UpstreamClient) FetchRecordsByIDs(ctx context.Context, version, table string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("filterByFormula", recordIDFormula(ids))

	envelope, err := u.do(ctx, http.MethodGet, u.tableURL(version, table, query), nil)
	if err != nil {
		return nil, err
	}
	return envelope.Records, nil
}

// recordIDFormula builds RECORD_ID()='x' or OR(RECORD_ID()='x',...) filters.
func recordIDFormula(ids []string) string {
	terms := make([]string, len(ids))
	for i, id := range ids {
		terms[i] = fmt.Sprintf("RECORD_ID()='%s'", id)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "OR(" + strings.Join(terms, ",") + ")"
}

func (u *UpstreamClient) do(ctx context.Context, method, endpoint string, body io.Reader) (*upstreamEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	u.setHeaders(req)

	res, err := u.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: "upstream request failed", Cause: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &GatewayError{Message: "upstream response read failed", Cause: err}
	}

	envelope := &upstreamEnvelope{}
	if err := json.Unmarshal(payload, envelope); err != nil {
		return nil, &GatewayError{Message: "upstream returned malformed payload", Cause: err}
	}

	if envelope.Error != nil || res.StatusCode != http.StatusOK {
		errType, errMessage := "", "unknown"
		if envelope.Error != nil {
			errType, errMessage = envelope.Error.Type, envelope.Error.Message
		}
		return nil, fmt.Errorf("[upstream error: %s] %s", errType, errMessage)
	}

	return envelope, nil
}

func (u *UpstreamClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+u.keys.pick())
	req.Header.Set("x-api-version", apiVersionHeader)
	req.Header.Set("x-airtable-application-id", u.baseID)
	req.Header.Set("User-Agent", userAgent)
}
