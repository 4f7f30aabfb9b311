// Package metrics serves the Prometheus metrics of all fanout packages.
// Metrics are defined next to the code that records them (fanout, client,
// cache, ratelimit) and registered on the default registry via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Batch Metrics (pkg/fanout):
//   - fanout_items_total{outcome} (Counter): Settled items by outcome (success, transport, transform, cancelled)
//   - fanout_inflight_requests (Gauge): Requests currently in flight across all streams
//   - fanout_item_duration_seconds (Histogram): Time per item, transform included
//   - fanout_batches_total{result} (Counter): Streams by terminal state (exhausted, aborted, closed, cancelled)
//
// Request Metrics (pkg/client):
//   - fanout_client_requests_total{host, status} (Counter): Upstream requests by host and status
//   - fanout_client_request_duration_seconds{host} (Histogram): Request duration, retries included
//   - fanout_client_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - fanout_client_retries_total{error_class} (Counter): Retry attempts
//   - fanout_client_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - fanout_client_retry_exhausted_total{error_class} (Counter): Requests that used up their attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - fanout_rate_limit_remaining{host} (Gauge): Last reported budget per host
//   - fanout_rate_limit_blocks_total{host} (Counter): Requests blocked at the critical threshold
//   - fanout_rate_limit_throttles_total{host} (Counter): Requests delayed at the warning threshold
//
// Cache Metrics (pkg/cache):
//   - fanout_cache_hits_total{state} (Counter): Hits by freshness (fresh, stale)
//   - fanout_cache_misses_total (Counter): Misses
//   - fanout_cache_stored_bytes_total (Counter): Encoded bytes written
//   - fanout_cache_not_modified_total (Counter): Successful revalidations
//   - fanout_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Item failure ratio
//   sum(rate(fanout_items_total{outcome!="success"}[5m])) / sum(rate(fanout_items_total[5m]))
//
//   # Aborted batches
//   increase(fanout_batches_total{result="aborted"}[1h])
//
//   # P95 item latency
//   histogram_quantile(0.95, rate(fanout_item_duration_seconds_bucket[5m]))
//
//   # Cache hit rate
//   sum(rate(fanout_cache_hits_total[5m])) /
//   (sum(rate(fanout_cache_hits_total[5m])) + sum(rate(fanout_cache_misses_total[5m])))
