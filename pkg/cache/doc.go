// Package cache stores HTTP responses in Redis and revalidates them with
// conditional requests.
//
// Entries live in Redis until their freshness lifetime plus a stale window
// has passed. A fresh entry can be served without a request; a stale entry
// that carries an ETag or Last-Modified date is revalidated, and a
// 304 Not Modified refreshes it in place.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.WithStaleWindow(10*time.Minute))
//
//	key := cache.KeyFromRequest(req)
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch and store
//	case entry.IsExpired() && entry.CanRevalidate():
//		cache.AddConditionalHeaders(req, entry)
//	default:
//		return cache.EntryToResponse(entry, req), nil
//	}
//
// # Storing Responses
//
//	if cache.Cacheable(resp) {
//		entry, err := cache.ResponseToEntry(resp)
//		if err != nil {
//			return err
//		}
//		_ = manager.Set(ctx, key, entry)
//	}
//
// ResponseToEntry reads the body and puts a fresh reader back on the
// response, so the caller can keep using it.
//
// # Metrics
//
//   - fanout_cache_hits_total{state} - hits by freshness (fresh, stale)
//   - fanout_cache_misses_total - misses
//   - fanout_cache_stored_bytes_total - bytes written to Redis
//   - fanout_cache_not_modified_total - successful revalidations
//   - fanout_cache_errors_total{operation} - Redis or decode errors
package cache
