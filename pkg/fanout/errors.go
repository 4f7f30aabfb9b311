package fanout

import (
	"errors"
	"fmt"
)

// maxErrBodySize caps how much of an unexpected response body is kept
// in a StatusError.
const maxErrBodySize = 4 << 10 // 4KB

// ErrorKind classifies a per-item failure.
type ErrorKind string

const (
	// KindTransport covers request construction, connection, timeout and
	// unexpected status failures.
	KindTransport ErrorKind = "transport"

	// KindTransform means the caller-supplied Transform failed or panicked.
	KindTransform ErrorKind = "transform"

	// KindCancelled marks a task stopped by the stream itself (abort or Close)
	// or by the parent context. It is never reported as the cause of an abort.
	KindCancelled ErrorKind = "cancelled"
)

// Common errors returned by the engine.
var (
	// ErrTransport matches any *ItemError of kind KindTransport.
	ErrTransport = errors.New("transport failure")

	// ErrTransform matches any *ItemError of kind KindTransform.
	ErrTransform = errors.New("transform failure")

	// ErrCancelled matches any *ItemError of kind KindCancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrUnexpectedStatus is wrapped by StatusError.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrInvalidConfig is returned when Config validation fails.
	ErrInvalidConfig = errors.New("invalid fanout config")

	// ErrNoTransform is returned when a batch produces something other than
	// *http.Response but no Transform was given.
	ErrNoTransform = errors.New("transform required for non-response result type")

	// errStopped is the cancellation cause used when the stream stops its own tasks.
	errStopped = errors.New("fanout: stream stopped")
)

// ItemError is the failure of a single item. In continue mode it is the
// tagged error carried by an Emission; in abort mode it is returned by
// Stream.Err.
type ItemError struct {
	Index int
	Item  any
	Kind  ErrorKind
	Err   error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("item %v (index %d) %s failure: %v", e.Item, e.Index, e.Kind, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an ItemError against the kind sentinels.
func (e *ItemError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrTransform:
		return e.Kind == KindTransform
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// StatusError is returned when a response status is outside 2xx and
// Config.AllowErrorStatus is not set.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", ErrUnexpectedStatus, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
