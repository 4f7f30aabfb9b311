package fanout

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/Sternrassler/fanout/pkg/logging"
)

const tracerName = "github.com/Sternrassler/fanout/pkg/fanout"

// Batch describes the requests of one stream.
type Batch[ID, R any] struct {
	// BaseURL is the resource the item identifiers are appended to.
	BaseURL string

	// Items are dispatched in this order.
	Items []ID

	// Request derives each request (default: PathRequest).
	Request RequestBuilder[ID]

	// Transform post-processes each response. When nil, responses are
	// passed through and R must be *http.Response.
	Transform Transform[ID, R]
}

// Iterate prepares a stream over batch. No request is sent before the first
// call to Next. OrderDefault means completion order.
func Iterate[ID, R any](ctx context.Context, doer Doer, batch Batch[ID, R], cfg Config) (*Stream[ID, R], error) {
	if doer == nil {
		return nil, fmt.Errorf("%w: doer is required", ErrInvalidConfig)
	}
	if batch.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if batch.Transform == nil {
		var zero R
		if _, ok := any(zero).(*http.Response); !ok {
			return nil, fmt.Errorf("%w: got %T", ErrNoTransform, zero)
		}
	}

	build := batch.Request
	if build == nil {
		build = PathRequest[ID]
	}

	order := cfg.Order
	if order == OrderDefault {
		order = OrderCompletion
	}

	logger := logging.NewLogger("fanout")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().
		Str("batch_id", uuid.NewString()).
		Str("base_url", batch.BaseURL).
		Logger()

	// Never more than len(items) tasks run at once.
	slots := max(min(cfg.MaxConcurrency, len(batch.Items)), 1)

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Stream[ID, R]{
		ctx:       ctx,
		doer:      doer,
		baseURL:   batch.BaseURL,
		items:     slices.Clone(batch.Items),
		build:     build,
		transform: batch.Transform,
		cfg:       cfg,
		order:     order,
		logger:    logger,
		tracer:    tracer,
		done:      make(chan completion[R], slots),
		running:   make(map[int]context.CancelCauseFunc, slots),
		pending:   make(map[int]completion[R], slots),
	}, nil
}

// IterRequests fetches baseURL/<item> for every item and yields transformed
// values in input order unless cfg.Order says otherwise. A nil transform
// decodes each JSON body into R.
func IterRequests[ID, R any](ctx context.Context, doer Doer, baseURL string, items []ID, transform Transform[ID, R], cfg Config) (*Stream[ID, R], error) {
	if transform == nil {
		transform = DecodeJSON[ID, R]
	}
	if cfg.Order == OrderDefault {
		cfg.Order = OrderAdmission
	}
	return Iterate(ctx, doer, Batch[ID, R]{
		BaseURL:   baseURL,
		Items:     items,
		Transform: transform,
	}, cfg)
}

// IterResponses fetches baseURL/<item> for every item and yields the raw
// responses as they complete. The consumer owns each response body.
func IterResponses[ID any](ctx context.Context, doer Doer, baseURL string, items []ID, cfg Config) (*Stream[ID, *http.Response], error) {
	if cfg.Order == OrderDefault {
		cfg.Order = OrderCompletion
	}
	return Iterate(ctx, doer, Batch[ID, *http.Response]{
		BaseURL: baseURL,
		Items:   items,
	}, cfg)
}

// Range returns the integers in [start, end).
func Range(start, end int) []int {
	if end <= start {
		return nil
	}
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}
