package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// completion is what a task reports back to the collector, exactly once.
type completion[R any] struct {
	index int
	value R
	err   *ItemError
}

// admit starts tasks until the pool is full or the items run out. In
// admission order the distance between the cursor and the next item to emit
// is bounded too, which bounds the reorder buffer.
func (s *Stream[ID, R]) admit() {
	for s.inflight < s.cfg.MaxConcurrency && s.cursor < len(s.items) {
		if s.failed != nil {
			return
		}
		if s.order == OrderAdmission && s.cursor-s.emitted >= s.cfg.MaxConcurrency {
			return
		}

		index := s.cursor
		s.cursor++

		ctx, cancel := context.WithCancelCause(s.ctx)
		s.running[index] = cancel
		s.inflight++
		inflightRequests.Inc()

		go s.run(ctx, cancel, index, s.items[index])
	}
}

// run executes one item. It must send exactly one completion.
func (s *Stream[ID, R]) run(ctx context.Context, cancel context.CancelCauseFunc, index int, item ID) {
	start := time.Now()
	c := completion[R]{index: index}

	reqCtx := ctx
	stopTimeout := context.CancelFunc(func() {})
	if s.cfg.Timeout > 0 {
		reqCtx, stopTimeout = context.WithTimeout(ctx, s.cfg.Timeout)
	}
	release := func() {
		stopTimeout()
		cancel(nil)
	}

	reqCtx, span := s.tracer.Start(reqCtx, "fanout.item", trace.WithAttributes(
		attribute.Int("fanout.index", index),
		attribute.String("fanout.item", fmt.Sprint(item)),
	))

	handedOff := false
	defer func() {
		if c.err != nil {
			span.RecordError(c.err)
			span.SetStatus(codes.Error, string(c.err.Kind))
		}
		span.End()
		if !handedOff {
			release()
		}
		itemDuration.Observe(time.Since(start).Seconds())
		s.done <- c
	}()

	req, err := s.build(reqCtx, s.baseURL, item)
	if err != nil {
		c.err = s.failure(ctx, index, item, KindTransport, err)
		return
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		c.err = s.failure(ctx, index, item, KindTransport, err)
		return
	}

	if !s.cfg.AllowErrorStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		c.err = s.failure(ctx, index, item, KindTransport, statusError(resp))
		return
	}

	if s.transform == nil {
		resp.Body = &ownedBody{ReadCloser: resp.Body, release: release}
		c.value = any(resp).(R)
		handedOff = true
		return
	}

	body := &trackedBody{ReadCloser: resp.Body}
	resp.Body = body
	value, err := s.applyTransform(reqCtx, item, resp)
	_ = body.Close()
	if err != nil {
		c.err = s.failure(ctx, index, item, KindTransform, err)
		return
	}
	c.value = value
}

// applyTransform runs the caller's transform, turning a panic into an error.
func (s *Stream[ID, R]) applyTransform(ctx context.Context, item ID, resp *http.Response) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panic: %v", r)
		}
	}()
	return s.transform(ctx, item, resp)
}

// failure builds the ItemError for a task, reclassifying it as a
// cancellation when the stream or the parent context stopped the task.
func (s *Stream[ID, R]) failure(ctx context.Context, index int, item ID, kind ErrorKind, err error) *ItemError {
	if errors.Is(context.Cause(ctx), errStopped) || s.ctx.Err() != nil {
		kind = KindCancelled
	}
	return &ItemError{Index: index, Item: item, Kind: kind, Err: err}
}

// statusError consumes and closes the body of an unexpected response.
func statusError(resp *http.Response) error {
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
	if err != nil {
		b = []byte("unable to read body")
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(b),
	}
}
