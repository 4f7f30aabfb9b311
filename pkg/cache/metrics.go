package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts hits by freshness.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"state"}, // "fresh", "stale"
	)

	// CacheMisses counts misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// StoredBytes counts bytes written to Redis.
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_cache_stored_bytes_total",
			Help: "Total bytes of encoded entries written to the response cache",
		},
	)

	// NotModified counts successful revalidations.
	NotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_cache_not_modified_total",
			Help: "Total number of 304 Not Modified revalidations",
		},
	)

	// CacheErrors counts failed operations.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_cache_errors_total",
			Help: "Total number of response cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
