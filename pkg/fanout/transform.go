package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Transform turns the raw response of one item into the value handed to the
// consumer. It owns resp.Body: the engine closes the body afterwards only if
// the transform did not.
type Transform[ID, R any] func(ctx context.Context, item ID, resp *http.Response) (R, error)

// DecodeJSON decodes the response body into R and closes it.
func DecodeJSON[ID, R any](_ context.Context, _ ID, resp *http.Response) (R, error) {
	defer resp.Body.Close()

	var out R
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding body: %w", err)
	}
	return out, nil
}

// ReadBody reads the whole response body and closes it.
func ReadBody[ID any](_ context.Context, _ ID, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return b, nil
}

// trackedBody closes the underlying body at most once, whoever asks first.
type trackedBody struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (b *trackedBody) Close() error {
	b.once.Do(func() {
		b.err = b.ReadCloser.Close()
	})
	return b.err
}

// ownedBody is handed to the consumer in passthrough mode. Closing it also
// releases the task context the response was read under.
type ownedBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
	err     error
}

func (b *ownedBody) Close() error {
	b.once.Do(func() {
		b.err = b.ReadCloser.Close()
		b.release()
	})
	return b.err
}

// releaseValue frees a result the consumer will never see.
func releaseValue(v any) {
	switch rv := v.(type) {
	case *http.Response:
		if rv != nil && rv.Body != nil {
			_, _ = io.Copy(io.Discard, rv.Body)
			_ = rv.Body.Close()
		}
	case io.Closer:
		_ = rv.Close()
	}
}
