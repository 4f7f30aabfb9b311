package fanout

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type streamState int

const (
	stateIdle streamState = iota
	stateRunning
	stateExhausted
	stateAborted
	stateClosed
)

// Emission is one delivered (item, result) pair. Err is set only when the
// stream runs with RaiseOnError disabled, and is then an *ItemError.
type Emission[ID, R any] struct {
	Index int
	Item  ID
	Value R
	Err   error
}

// Stream is a forward-only, single-pass sequence of emissions. It is driven
// by the goroutine calling Next, which is the only writer of the batch
// bookkeeping; request tasks only report their own completion.
//
//	s, err := fanout.IterRequests[int, Post](ctx, http.DefaultClient, base, fanout.Range(1, 6), nil, cfg)
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		e := s.Emission()
//		...
//	}
//	if err := s.Err(); err != nil { ... }
type Stream[ID, R any] struct {
	ctx       context.Context
	doer      Doer
	baseURL   string
	items     []ID
	build     RequestBuilder[ID]
	transform Transform[ID, R]
	cfg       Config
	order     Order
	logger    zerolog.Logger
	tracer    trace.Tracer

	sink    ProgressSink
	span    trace.Span
	started time.Time

	done     chan completion[R]
	running  map[int]context.CancelCauseFunc
	pending  map[int]completion[R]
	cursor   int
	emitted  int
	inflight int
	settled  int

	// failed is an admission-order failure waiting for its predecessors.
	failed *ItemError

	state   streamState
	current Emission[ID, R]
	err     error
}

// Next advances to the next emission. It returns false when the stream is
// exhausted, aborted, closed, or its context is cancelled; Err tells which.
func (s *Stream[ID, R]) Next() bool {
	switch s.state {
	case stateIdle:
		s.begin()
	case stateRunning:
	default:
		return false
	}

	s.current = Emission[ID, R]{}

	for {
		if s.order == OrderAdmission {
			if s.failed != nil && s.emitted == s.failed.Index {
				s.abort(s.failed)
				return false
			}
			if c, ok := s.pending[s.emitted]; ok {
				delete(s.pending, s.emitted)
				s.emitted++
				s.admit()
				s.deliver(c)
				return true
			}
		}

		if s.emitted == len(s.items) {
			s.end(stateExhausted, "exhausted")
			return false
		}

		s.admit()

		select {
		case c := <-s.done:
			switch s.receive(c) {
			case receiveStop:
				return false
			case receiveDrop:
				continue
			}
			if s.order == OrderAdmission {
				s.pending[c.index] = c
				continue
			}
			s.emitted++
			s.admit()
			s.deliver(c)
			return true

		case <-s.ctx.Done():
			s.cancelled()
			return false
		}
	}
}

// Emission returns the pair produced by the last successful call to Next.
func (s *Stream[ID, R]) Emission() Emission[ID, R] {
	return s.current
}

// Err returns the failure that ended the stream: the triggering *ItemError
// under abort-all, or the context error if the parent context was
// cancelled. It is nil after exhaustion or Close.
func (s *Stream[ID, R]) Err() error {
	return s.err
}

// Close abandons the stream. Running requests are cancelled and every
// response the consumer has not received is released before Close returns.
// Close is idempotent.
func (s *Stream[ID, R]) Close() error {
	switch s.state {
	case stateIdle:
		s.state = stateClosed
	case stateRunning:
		s.logger.Debug().
			Int("emitted", s.emitted).
			Int("inflight", s.inflight).
			Msg("Fan-out stream closed early")
		s.shutdown()
		s.end(stateClosed, "closed")
	}
	return nil
}

// All returns the emissions as a range-over-func sequence. Breaking out of
// the loop closes the stream; check Err afterwards.
func (s *Stream[ID, R]) All() iter.Seq[Emission[ID, R]] {
	return func(yield func(Emission[ID, R]) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.current) {
				return
			}
		}
	}
}

// Collect drains the stream. Under abort-all the returned slice holds the
// prefix emitted before the failure.
func (s *Stream[ID, R]) Collect() ([]Emission[ID, R], error) {
	out := make([]Emission[ID, R], 0, len(s.items))
	for e := range s.All() {
		out = append(out, e)
	}
	return out, s.Err()
}

func (s *Stream[ID, R]) begin() {
	s.state = stateRunning
	s.started = time.Now()
	s.sink = newSink(s.cfg, len(s.items))
	s.ctx, s.span = s.tracer.Start(s.ctx, "fanout.batch", trace.WithAttributes(
		attribute.String("fanout.base_url", s.baseURL),
		attribute.Int("fanout.items", len(s.items)),
		attribute.Int("fanout.max_concurrency", s.cfg.MaxConcurrency),
		attribute.String("fanout.order", s.order.String()),
	))

	s.logger.Debug().
		Int("items", len(s.items)).
		Int("max_concurrency", s.cfg.MaxConcurrency).
		Str("order", s.order.String()).
		Bool("raise_on_error", s.cfg.RaiseOnError).
		Msg("Starting fan-out batch")
}

type receiveResult int

const (
	receiveKeep receiveResult = iota
	receiveDrop
	receiveStop
)

// receive books a completion and tells Next what to do with it.
func (s *Stream[ID, R]) receive(c completion[R]) receiveResult {
	s.inflight--
	inflightRequests.Dec()
	delete(s.running, c.index)

	// Successors of a pending admission-order failure are never emitted.
	if s.failed != nil && c.index > s.failed.Index {
		if c.err == nil {
			releaseValue(any(c.value))
		}
		itemsTotal.WithLabelValues(string(KindCancelled)).Inc()
		return receiveDrop
	}

	// Otherwise only the parent context can cancel a task while the stream
	// is running.
	if c.err != nil && c.err.Kind == KindCancelled {
		itemsTotal.WithLabelValues(outcomeLabel(c.err)).Inc()
		s.cancelled()
		return receiveStop
	}

	s.settled++
	s.sink.Increment()
	itemsTotal.WithLabelValues(outcomeLabel(c.err)).Inc()

	if c.err == nil {
		return receiveKeep
	}

	s.logger.Warn().
		Err(c.err.Err).
		Int("index", c.index).
		Interface("item", c.err.Item).
		Str("error_kind", string(c.err.Kind)).
		Msg("Fan-out item failed")

	if !s.cfg.RaiseOnError {
		return receiveKeep
	}

	// In admission order the items before the failure are still owed to
	// the consumer.
	if s.order == OrderAdmission && c.index > s.emitted {
		s.holdFailure(c.err)
		return receiveDrop
	}

	s.abort(c.err)
	return receiveStop
}

// holdFailure stops the batch past err.Index and lets the predecessors
// finish. The earliest failing item wins.
func (s *Stream[ID, R]) holdFailure(err *ItemError) {
	if s.failed != nil && s.failed.Index < err.Index {
		return
	}
	s.failed = err
	for index, cancel := range s.running {
		if index > err.Index {
			cancel(errStopped)
		}
	}
}

func (s *Stream[ID, R]) deliver(c completion[R]) {
	s.current = Emission[ID, R]{
		Index: c.index,
		Item:  s.items[c.index],
		Value: c.value,
	}
	if c.err != nil {
		s.current.Err = c.err
	}
}

func (s *Stream[ID, R]) abort(err *ItemError) {
	s.err = err
	s.logger.Error().
		Err(err.Err).
		Int("index", err.Index).
		Interface("item", err.Item).
		Str("error_kind", string(err.Kind)).
		Int("emitted", s.emitted).
		Msg("Fan-out batch aborted")

	s.shutdown()
	s.end(stateAborted, "aborted")
}

func (s *Stream[ID, R]) cancelled() {
	s.err = s.ctx.Err()
	s.logger.Warn().
		Err(s.err).
		Int("emitted", s.emitted).
		Int("total", len(s.items)).
		Msg("Fan-out batch cancelled by context")

	s.shutdown()
	s.end(stateClosed, "cancelled")
}

// shutdown cancels running tasks and releases every result the consumer
// will not see. It returns once no task is left.
func (s *Stream[ID, R]) shutdown() {
	for _, cancel := range s.running {
		cancel(errStopped)
	}

	for s.inflight > 0 {
		c := <-s.done
		s.inflight--
		inflightRequests.Dec()
		delete(s.running, c.index)

		if c.err == nil {
			releaseValue(any(c.value))
		}
		itemsTotal.WithLabelValues(string(KindCancelled)).Inc()
	}

	for index, c := range s.pending {
		if c.err == nil {
			releaseValue(any(c.value))
		}
		delete(s.pending, index)
	}
}

func (s *Stream[ID, R]) end(state streamState, result string) {
	s.state = state
	s.sink.Finish()
	batchesTotal.WithLabelValues(result).Inc()

	s.span.SetAttributes(
		attribute.String("fanout.result", result),
		attribute.Int("fanout.emitted", s.emitted),
	)
	if s.err != nil {
		s.span.RecordError(s.err)
		s.span.SetStatus(codes.Error, result)
	}
	s.span.End()

	s.logger.Info().
		Str("result", result).
		Int("emitted", s.emitted).
		Int("settled", s.settled).
		Int("total", len(s.items)).
		Dur("duration", time.Since(s.started)).
		Msg("Fan-out batch finished")
}
