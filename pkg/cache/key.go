package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Key identifies a cached response.
type Key struct {
	// Method is the request method, normally GET.
	Method string

	// Host and Path locate the resource.
	Host string
	Path string

	// Query parameters; encoded in sorted order.
	Query url.Values

	// Variant separates responses for the same URL, e.g. per credential.
	Variant string
}

// KeyFromRequest derives the key of req.
func KeyFromRequest(req *http.Request) Key {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return Key{
		Method: method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
	}
}

// String renders the key without the store prefix.
//
// Example:
//
//	GET:jsonplaceholder.typicode.com/posts/1:page=2
func (k Key) String() string {
	parts := []string{strings.ToUpper(k.Method), k.Host + "/" + strings.Trim(k.Path, "/")}

	// url.Values.Encode sorts by key.
	if q := k.Query.Encode(); q != "" {
		parts = append(parts, q)
	}
	if k.Variant != "" {
		parts = append(parts, "v="+k.Variant)
	}
	return strings.Join(parts, ":")
}
