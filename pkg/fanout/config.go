package fanout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var validate = validator.New()

// Order selects the emission order of a Stream.
type Order int

const (
	// OrderDefault lets the entry point decide: IterResponses and Iterate use
	// completion order, IterRequests uses admission order.
	OrderDefault Order = iota

	// OrderCompletion yields each item as soon as its request finishes.
	OrderCompletion

	// OrderAdmission yields items in input order, buffering early completions.
	OrderAdmission
)

// String returns the log name of the order.
func (o Order) String() string {
	switch o {
	case OrderCompletion:
		return "completion"
	case OrderAdmission:
		return "admission"
	default:
		return "default"
	}
}

// ParseOrder converts a flag or env value into an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return OrderDefault, nil
	case "completion":
		return OrderCompletion, nil
	case "admission", "input", "ordered":
		return OrderAdmission, nil
	default:
		return OrderDefault, fmt.Errorf("unknown order %q", s)
	}
}

// Config holds the per-batch engine configuration.
type Config struct {
	// MaxConcurrency is the maximum number of requests in flight.
	MaxConcurrency int `validate:"gte=1"`

	// Order selects the emission order.
	Order Order `validate:"gte=0,lte=2"`

	// RaiseOnError selects abort-all (true) over continue (false).
	RaiseOnError bool

	// ProgressLabel is passed to the progress sink. Empty disables progress.
	ProgressLabel string

	// Progress builds the sink for a batch (default: progress.Auto).
	Progress ProgressFactory `validate:"-"`

	// Timeout per request. Zero means no per-request timeout.
	Timeout time.Duration `validate:"gte=0"`

	// AllowErrorStatus passes non-2xx responses through instead of failing the item.
	AllowErrorStatus bool

	// Logger overrides the component logger.
	Logger *zerolog.Logger `validate:"-"`

	// Tracer overrides the global OpenTelemetry tracer.
	Tracer trace.Tracer `validate:"-"`
}

// DefaultConfig returns the configuration used by the demo flows.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		RaiseOnError:   true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
