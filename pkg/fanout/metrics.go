package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for fan-out batches.
var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_items_total",
		Help: "Total settled fan-out items by outcome",
	}, []string{"outcome"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_inflight_requests",
		Help: "Number of fan-out requests currently in flight",
	})

	itemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_item_duration_seconds",
		Help:    "Duration of a single fan-out item including its transform",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_batches_total",
		Help: "Total fan-out batches by terminal state",
	}, []string{"result"})
)

func outcomeLabel(err *ItemError) string {
	if err == nil {
		return "success"
	}
	return string(err.Kind)
}
