package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rate limit response headers.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// DefaultThrottleDelay is the pause applied in the warning zone.
const DefaultThrottleDelay = time.Second

// epochCutoff separates "seconds until reset" from "unix reset time".
const epochCutoff = 1_000_000_000

// ErrBlocked is returned by Wait while a host's budget is critical.
var ErrBlocked = errors.New("request blocked: rate limit critical")

// Prometheus metrics for rate limit tracking.
var (
	remainingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanout_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by host",
	}, []string{"host"})

	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to a critical rate limit",
	}, []string{"host"})

	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to a low rate limit",
	}, []string{"host"})
)

// Tracker monitors per-host budgets and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	thresholds    Thresholds
	throttleDelay time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithThresholds replaces DefaultThresholds.
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) { t.thresholds = th }
}

// WithThrottleDelay replaces DefaultThrottleDelay.
func WithThrottleDelay(d time.Duration) Option {
	return func(t *Tracker) { t.throttleDelay = d }
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		redis:         redisClient,
		logger:        logger,
		thresholds:    DefaultThresholds(),
		throttleDelay: DefaultThrottleDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Thresholds returns the active thresholds.
func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

func stateKey(host string) string {
	return KeyPrefix + ":" + host
}

// GetState returns the budget of host. Hosts without data, or whose window
// has reset, get a default healthy state.
func (t *Tracker) GetState(ctx context.Context, host string) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, stateKey(host)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Str("host", host).Msg("No rate limit state in Redis, assuming healthy")
		return defaultState(host, t.thresholds), nil
	}

	state := &State{Host: host}
	if state.Remaining, err = strconv.Atoi(fields[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	if v := fields[fieldLimit]; v != "" {
		if state.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse limit: %w", err)
		}
	}
	resetUnix, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}
	state.ResetAt = time.Unix(resetUnix, 0)
	if state.LastUpdate, err = time.Parse(time.RFC3339Nano, fields[fieldLastUpdate]); err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	if !state.ResetAt.After(time.Now()) {
		return defaultState(host, t.thresholds), nil
	}

	state.UpdateHealth(t.thresholds)
	return state, nil
}

// UpdateFromHeaders stores the budget reported in headers. Responses
// without X-RateLimit-Remaining are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	limit := 0
	if v := headers.Get(HeaderLimit); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	now := time.Now()
	resetAt, err := parseReset(headers, now)
	if err != nil {
		return err
	}

	state := &State{
		Host:       host,
		Remaining:  remain,
		Limit:      limit,
		ResetAt:    resetAt,
		LastUpdate: now,
	}
	state.UpdateHealth(t.thresholds)

	key := stateKey(host)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldRemaining, remain,
		fieldLimit, limit,
		fieldResetAt, resetAt.Unix(),
		fieldLastUpdate, now.Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, time.Until(resetAt)+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	remainingGauge.WithLabelValues(host).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock(t.thresholds):
		t.logger.Error().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", resetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling(t.thresholds):
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", resetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// Wait gates one request to host. It returns ErrBlocked while the budget is
// critical, and pauses in the warning zone unless ctx ends first.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return err
	}

	if state.NeedsCriticalBlock(t.thresholds) {
		wait := state.TimeUntilReset()
		t.logger.Error().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Rate limit critical - blocking request")

		blocksTotal.WithLabelValues(host).Inc()
		return fmt.Errorf("%w: %s resets in %s", ErrBlocked, host, wait.Round(time.Second))
	}

	if state.NeedsThrottling(t.thresholds) {
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		throttlesTotal.WithLabelValues(host).Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

// parseReset reads X-RateLimit-Reset as seconds from now or as a unix
// timestamp, falling back to Retry-After.
func parseReset(headers http.Header, now time.Time) (time.Time, error) {
	if v := headers.Get(HeaderReset); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		if n >= epochCutoff {
			return time.Unix(n, 0), nil
		}
		return now.Add(time.Duration(n) * time.Second), nil
	}

	if d, ok := RetryAfter(headers, now); ok {
		return now.Add(d), nil
	}

	return time.Time{}, fmt.Errorf("%s header missing", HeaderReset)
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	v := headers.Get(HeaderRetryAfter)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}
