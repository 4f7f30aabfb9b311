// Package client provides a retrying HTTP client with client-side
// throttling, per-host rate limit tracking and response caching. A *Client
// can be used as the Doer of a fan-out batch.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/fanout/pkg/cache"
	"github.com/Sternrassler/fanout/pkg/fanout"
	"github.com/Sternrassler/fanout/pkg/logging"
	"github.com/Sternrassler/fanout/pkg/ratelimit"
)

var validate = validator.New()

var _ fanout.Doer = (*Client)(nil)

// Client is a retrying HTTP client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis backs the response cache and the shared rate limit state.
	// Optional; without it both are disabled.
	Redis *redis.Client `validate:"-"`

	// UserAgent is sent with every request.
	UserAgent string `validate:"required"`

	// RateLimit is the client-side request rate per second. 0 disables it.
	RateLimit float64 `validate:"gte=0"`
	Burst     int     `validate:"gte=0"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `validate:"gte=0"`

	// EnableCache caches GET responses in Redis.
	EnableCache      bool
	CacheStaleWindow time.Duration `validate:"gte=0"`

	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration. Caching is enabled
// when a Redis client is given.
func DefaultConfig(redis *redis.Client, userAgent string) Config {
	return Config{
		Redis:            redis,
		UserAgent:        userAgent,
		RateLimit:        10,
		Burst:            10,
		Timeout:          30 * time.Second,
		EnableCache:      redis != nil,
		CacheStaleWindow: cache.DefaultStaleWindow,
		Retry:            DefaultRetryConfig(),
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if cfg.EnableCache && cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required for caching")
	}

	logger := logging.NewLogger("client")

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logging.NewLogger("ratelimit"))
	}
	if cfg.EnableCache {
		c.cache = cache.NewManager(cfg.Redis, cache.WithStaleWindow(cfg.CacheStaleWindow))
	}

	return c, nil
}

// Do performs an HTTP request with throttling, rate limit gating, caching
// and retries. Non-retriable error statuses are returned as responses.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host
	req = req.Clone(ctx)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: client-side throttle
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("client throttle: %w", err)
		}
	}

	// Step 2: shared upstream budget
	if c.tracker != nil {
		if err := c.tracker.Wait(ctx, host); err != nil {
			if errors.Is(err, ratelimit.ErrBlocked) {
				requestsTotal.WithLabelValues(host, "rate_limited").Inc()
				c.logger.Warn().Str("host", host).Msg("Request blocked by rate limiter")
			}
			return nil, err
		}
	}

	// Step 3: cache lookup
	var (
		key    cache.Key
		cached *cache.Entry
	)
	useCache := c.cache != nil && req.Method == http.MethodGet
	if useCache {
		key = cache.KeyFromRequest(req)
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil && !entry.IsExpired():
			requestsTotal.WithLabelValues(host, "cache_hit").Inc()
			return cache.EntryToResponse(entry, req), nil
		case err == nil && entry.CanRevalidate():
			cached = entry
			cache.AddConditionalHeaders(req, entry)
			c.logger.Debug().
				Str("url", req.URL.String()).
				Str("etag", entry.ETag).
				Msg("Making conditional request")
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache get error")
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	// Step 4: execute with retries
	var resp *http.Response
	attempt := 0
	err := retryWithBackoff(ctx, c.logger, c.config.Retry, func() (ErrorClass, error) {
		attempt++
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return "", fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(host, "network_error").Inc()
			c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("HTTP request failed")
			return ErrorClassNetwork, err
		}

		if c.tracker != nil {
			if err := c.tracker.UpdateFromHeaders(ctx, host, r.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		if r.StatusCode >= 400 {
			errClass := classifyStatus(r.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(host, strconv.Itoa(r.StatusCode)).Inc()

			c.logger.Warn().
				Str("url", req.URL.String()).
				Int("status", r.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Upstream request error")

			if shouldRetry(errClass) {
				apiErr := &APIError{
					StatusCode: r.StatusCode,
					ErrorClass: errClass,
					Message:    r.Status,
				}
				if d, ok := ratelimit.RetryAfter(r.Header, time.Now()); ok {
					apiErr.RetryAfter = d
				}
				drain(r.Body)
				return errClass, apiErr
			}
		}

		resp = r
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	// Step 5: revalidated entry
	if resp.StatusCode == http.StatusNotModified && cached != nil {
		drain(resp.Body)
		requestsTotal.WithLabelValues(host, "304").Inc()

		entry, err := c.cache.Refresh(ctx, key, cache.ExpiresFromHeaders(resp.Header, time.Now()))
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
			entry = cached
		}
		c.logger.Debug().Str("url", req.URL.String()).Msg("304 Not Modified - using cache")
		return cache.EntryToResponse(entry, req), nil
	}

	if resp.StatusCode < 400 {
		requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	}

	// Step 6: store
	if useCache && cache.Cacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("url", req.URL.String()).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
