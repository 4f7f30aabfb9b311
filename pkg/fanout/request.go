package fanout

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Doer sends a single HTTP request. *http.Client and *client.Client satisfy
// it. The engine never owns the Doer's lifecycle.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestBuilder derives the request for one item.
type RequestBuilder[ID any] func(ctx context.Context, baseURL string, item ID) (*http.Request, error)

// PathRequest builds GET <baseURL>/<item>.
func PathRequest[ID any](ctx context.Context, baseURL string, item ID) (*http.Request, error) {
	target := strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(fmt.Sprint(item))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// QueryRequest returns a builder for GET <baseURL>?<param>=<item>, keeping
// any query already present on baseURL.
func QueryRequest[ID any](param string) RequestBuilder[ID] {
	return func(ctx context.Context, baseURL string, item ID) (*http.Request, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}

		q := u.Query()
		q.Set(param, fmt.Sprint(item))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
