package airlock

import (
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCacheTTL bounds staleness even without explicit invalidation.
const DefaultCacheTTL = time.Minute

// CacheEntry is a replayable upstream response body.
type CacheEntry struct {
	Payload     string
	ContentType string
}

// clearKeyPattern extracts the version/base/table segments used for prefix
// invalidation. Paths that do not match are not invalidated.
var clearKeyPattern = regexp.MustCompile(`/(v[^/]+)/(app[^/?]+)/([^?/]+)`)

// ResponseCache maps method + full request URI to a cached payload. A single
// mutating request against a table invalidates every cached view of it.
type ResponseCache struct {
	store  *gocache.Cache
	logger Logger
}

func NewResponseCache(ttl time.Duration, logger Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &ResponseCache{
		store:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// Get returns the cached entry for a method + URI pair.
func (c *ResponseCache) Get(method, uri string) (CacheEntry, bool) {
	value, found := c.store.Get(cacheKey(method, uri))
	if !found {
		return CacheEntry{}, false
	}

	entry, ok := value.(CacheEntry)
	if !ok {
		return CacheEntry{}, false
	}
	return entry, true
}

// Set stores a payload with its content type so the proxy can replay the
// exact response shape. Only successful GET responses should be stored.
func (c *ResponseCache) Set(method, uri, payload, contentType string) {
	c.store.SetDefault(cacheKey(method, uri), CacheEntry{
		Payload:     payload,
		ContentType: contentType,
	})
}

// Clear drops every entry under the version/base/table prefix of the given
// URI. Malformed URIs invalidate nothing.
func (c *ResponseCache) Clear(uri string) {
	match := clearKeyPattern.FindStringSubmatch(uri)
	if match == nil {
		c.logger.Warn("cache clear skipped, %q does not look like a table path", uri)
		return
	}

	prefix := strings.Join(match[1:4], "/")
	for key := range c.store.Items() {
		if strings.Contains(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// Len reports the number of live entries, expired ones included until sweep.
func (c *ResponseCache) Len() int {
	return c.store.ItemCount()
}

func cacheKey(method, uri string) string {
	return method + " " + uri
}
