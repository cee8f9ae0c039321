// Package cache provides a Redis-backed cache of HTTP response bodies with
// ETag support for conditional requests.
package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached response.
type Entry struct {
	// Data is the decoded response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers,omitempty"`

	// EffectiveURL is the final URL after redirects
	EffectiveURL string `json:"effective_url,omitempty"`

	// CachedAt is when the response was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 once expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Revalidatable reports whether a stale entry can be refreshed with a
// conditional request.
func (e *Entry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
