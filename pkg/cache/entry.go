package cache

import (
	"net/http"
	"time"
)

// Entry is a cached HTTP response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag for If-None-Match revalidation.
	ETag string `json:"etag,omitempty"`

	// Expires is the end of the freshness lifetime.
	Expires time.Time `json:"expires"`

	// LastModified for If-Modified-Since revalidation.
	LastModified time.Time `json:"last_modified,omitzero"`

	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`

	// CachedAt is when the entry was stored or last revalidated.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the freshness lifetime has passed.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the remaining freshness lifetime, or 0 once expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate reports whether the entry carries a validator.
func (e *Entry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
