package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	base := DefaultRetryConfig()

	tests := []struct {
		class       ErrorClass
		wantInitial time.Duration
		wantMax     time.Duration
	}{
		{ErrorClassServer, 1 * time.Second, 30 * time.Second},
		{ErrorClassRateLimit, 5 * time.Second, 60 * time.Second},
		{ErrorClassNetwork, 2 * time.Second, 30 * time.Second},
		{"", 1 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			cfg := RetryConfigForErrorClass(tt.class, base)
			if cfg.InitialBackoff != tt.wantInitial {
				t.Errorf("InitialBackoff = %v, want %v", cfg.InitialBackoff, tt.wantInitial)
			}
			if cfg.MaxBackoff != tt.wantMax {
				t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, tt.wantMax)
			}
			if cfg.MaxAttempts != base.MaxAttempts {
				t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, base.MaxAttempts)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() (ErrorClass, error) {
		calls++
		return "", nil
	})

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() (ErrorClass, error) {
		calls++
		if calls < 3 {
			return ErrorClassServer, errors.New("bad gateway")
		}
		return "", nil
	})

	if err != nil {
		t.Errorf("retryWithBackoff() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	cause := errors.New("bad gateway")
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() (ErrorClass, error) {
		calls++
		return ErrorClassServer, cause
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want to wrap the last failure", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), fastRetry(), func() (ErrorClass, error) {
		calls++
		return ErrorClassClient, errors.New("not found")
	})

	if err == nil || errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want the client error itself", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	cfg := fastRetry()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryWithBackoff(ctx, zerolog.Nop(), cfg, func() (ErrorClass, error) {
		return ErrorClassNetwork, errors.New("connection reset")
	})

	if !errors.Is(err, ErrContextCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want ErrContextCancelled wrapping deadline", err)
	}
	if time.Since(start) > time.Second {
		t.Error("backoff did not stop on context cancellation")
	}
}

func TestRetryWithBackoff_RetryAfter(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxAttempts = 2
	cfg.MaxBackoff = time.Second

	calls := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), zerolog.Nop(), cfg, func() (ErrorClass, error) {
		calls++
		if calls == 1 {
			return ErrorClassRateLimit, &APIError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 60 * time.Millisecond}
		}
		return "", nil
	})

	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %v, want Retry-After to be honoured", elapsed)
	}
}

func TestBackoffFor(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond}, // capped
		{6, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		for range 20 {
			got := backoffFor(cfg, tt.attempt)
			low := time.Duration(float64(tt.base) * 0.8)
			high := time.Duration(float64(tt.base) * 1.2)
			if got < low || got > high {
				t.Fatalf("backoffFor(attempt=%d) = %v, want within [%v, %v]", tt.attempt, got, low, high)
			}
		}
	}
}
