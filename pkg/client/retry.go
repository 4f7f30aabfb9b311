package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int `validate:"gte=1"`

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration `validate:"gte=0"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `validate:"gte=0"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `validate:"gte=1"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass adjusts base for an error class: rate limits
// back off five times longer, network errors twice as long.
func RetryConfigForErrorClass(errorClass ErrorClass, base RetryConfig) RetryConfig {
	cfg := base
	switch errorClass {
	case ErrorClassRateLimit:
		cfg.InitialBackoff *= 5
		cfg.MaxBackoff *= 2
	case ErrorClassNetwork:
		cfg.InitialBackoff *= 2
	}
	return cfg
}

// backoffFor returns the jittered (±20%) delay before attempt+1.
func backoffFor(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff * (0.8 + rand.Float64()*0.4))
}

// retryWithBackoff runs fn until it succeeds, returns a non-retriable
// class, or MaxAttempts is reached. fn reports the class of its failure.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, base RetryConfig, fn func() (ErrorClass, error)) error {
	var (
		lastErr   error
		lastClass ErrorClass
	)

	for attempt := 1; attempt <= base.MaxAttempts; attempt++ {
		errorClass, err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr, lastClass = err, errorClass

		if !shouldRetry(errorClass) {
			return lastErr
		}
		if attempt >= base.MaxAttempts {
			break
		}

		cfg := RetryConfigForErrorClass(errorClass, base)
		wait := backoffFor(cfg, attempt)

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = min(apiErr.RetryAfter, cfg.MaxBackoff)
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Debug().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", base.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, base.MaxAttempts, lastErr)
}
