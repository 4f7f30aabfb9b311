package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces cache keys in Redis.
	DefaultPrefix = "fanout:cache"

	// DefaultStaleWindow keeps expired entries around for revalidation.
	DefaultStaleWindow = 10 * time.Minute
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis       *redis.Client
	prefix      string
	staleWindow time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithStaleWindow sets how long expired entries stay available for
// revalidation. Zero drops them at expiry.
func WithStaleWindow(d time.Duration) Option {
	return func(m *Manager) { m.staleWindow = d }
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts ...Option) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{
		redis:       redisClient,
		prefix:      DefaultPrefix,
		staleWindow: DefaultStaleWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) redisKey(key Key) string {
	return m.prefix + ":" + key.String()
}

// Get retrieves an entry, fresh or stale. Returns ErrCacheMiss if the key
// doesn't exist.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, m.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		CacheHits.WithLabelValues("stale").Inc()
	} else {
		CacheHits.WithLabelValues("fresh").Inc()
	}
	return &entry, nil
}

// Set stores an entry until its expiry plus the stale window. Entries that
// are already expired and cannot be revalidated are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if entry.CanRevalidate() {
		ttl += m.staleWindow
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, m.redisKey(key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, m.redisKey(key)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh extends an entry after a 304 Not Modified and returns it.
func (m *Manager) Refresh(ctx context.Context, key Key, newExpires time.Time) (*Entry, error) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	entry.Expires = newExpires
	entry.CachedAt = time.Now()
	NotModified.Inc()

	return entry, m.Set(ctx, key, entry)
}
