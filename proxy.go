package airlock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

const (
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"
)

// ProxyRequest describes one inbound request to forward upstream. Body, when
// set, is the structured payload that replaces whatever the client sent; it
// is re-serialized according to ContentType before forwarding. RawBody is the
// fallback when no structured rewrite applies: the client bytes relayed
// untouched.
type ProxyRequest struct {
	Method      string
	URI         string // path plus raw query, as received
	ContentType string
	Body        any
	RawBody     []byte
}

// ProxyResult is the terminal outcome of a forward: the decoded payload with
// the upstream status. Non-200 results carry the decoded error payload and
// must not be treated as cacheable content.
type ProxyResult struct {
	StatusCode  int
	Payload     string
	ContentType string
	CacheHit    bool
}

// OK reports whether the upstream answered 200.
func (r *ProxyResult) OK() bool {
	return r.StatusCode == http.StatusOK
}

// ProxyClient forwards requests to the single upstream base configured for
// this deployment. It owns the cache interaction: GETs are served from cache
// when possible, any mutating request pessimistically invalidates the
// target's path prefix before forwarding.
type ProxyClient struct {
	target     string
	keys       *keyRing
	cache      *ResponseCache
	httpClient *http.Client
	logger     Logger
}

func NewProxyClient(target string, apiKeys []string, cache *ResponseCache, logger Logger) *ProxyClient {
	if logger == nil {
		logger = defLogger{}
	}
	return &ProxyClient{
		target:     strings.TrimRight(target, "/"),
		keys:       newKeyRing(apiKeys),
		cache:      cache,
		httpClient: &http.Client{Timeout: upstreamTimeout},
		logger:     logger,
	}
}

// Forward sends the request upstream with the gateway's credential injected,
// buffers and decodes the response body, and returns the decoded outcome.
func (p *ProxyClient) Forward(ctx context.Context, preq *ProxyRequest) (*ProxyResult, error) {
	if preq.Method == http.MethodGet {
		if entry, found := p.cache.Get(preq.Method, preq.URI); found {
			p.logger.Debug("proxy cache hit for %s", preq.URI)
			return &ProxyResult{
				StatusCode:  http.StatusOK,
				Payload:     entry.Payload,
				ContentType: entry.ContentType,
				CacheHit:    true,
			}, nil
		}
	} else {
		p.cache.Clear(preq.URI)
	}

	body, err := serializeBody(preq.Body, preq.ContentType)
	if err != nil {
		return nil, &GatewayError{Message: "failed to serialize outbound body", Cause: err}
	}
	if body == nil {
		body = preq.RawBody
	}

	req, err := http.NewRequestWithContext(ctx, preq.Method, p.target+preq.URI, bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Message: "failed to build upstream request", Cause: err}
	}

	// the gateway's own credential, never the caller's
	req.Header.Set("Authorization", "Bearer "+p.keys.pick())
	req.Header.Set("User-Agent", userAgent)
	if len(body) > 0 {
		req.Header.Set("Content-Type", preq.ContentType)
		req.Header.Set("Content-Length", strconv.Itoa(len(body)))
		req.ContentLength = int64(len(body))
	}

	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: "upstream request failed", Cause: err}
	}
	defer res.Body.Close()

	// buffer the whole body before decoding, it may arrive chunked
	buffered, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &GatewayError{Message: "upstream response read failed", Cause: err}
	}

	payload, err := decodePayload(buffered, res.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &GatewayError{Message: "failed to decode upstream payload", Cause: err}
	}

	contentType := res.Header.Get("Content-Type")

	if preq.Method == http.MethodGet && res.StatusCode == http.StatusOK {
		p.cache.Set(preq.Method, preq.URI, payload, contentType)
	}

	return &ProxyResult{
		StatusCode:  res.StatusCode,
		Payload:     payload,
		ContentType: contentType,
	}, nil
}

// serializeBody re-encodes a structured body per the declared content type.
func serializeBody(body any, contentType string) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	switch {
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		doc, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("form-urlencoded body must be an object")
		}
		form := url.Values{}
		for key, value := range doc {
			form.Set(key, fmt.Sprintf("%v", value))
		}
		return []byte(form.Encode()), nil
	default:
		return json.Marshal(body)
	}
}

// decodePayload inflates the buffered body per its content encoding. Identity
// passes through; anything else failing to decode fails the whole request.
func decodePayload(buffered []byte, encoding string) (string, error) {
	switch encoding {
	case encodingGzip:
		reader, err := gzip.NewReader(bytes.NewReader(buffered))
		if err != nil {
			return "", err
		}
		defer reader.Close()
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	case encodingDeflate:
		reader, err := zlib.NewReader(bytes.NewReader(buffered))
		if err != nil {
			return "", err
		}
		defer reader.Close()
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	default:
		return string(buffered), nil
	}
}
