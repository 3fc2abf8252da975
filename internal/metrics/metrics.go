// Package metrics exposes Prometheus collectors for the offline layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "makeriess"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	interceptedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interceptor",
			Name:      "requests_total",
			Help:      "Requests handled by the cache interceptor by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	replayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "deliveries_total",
			Help:      "Pending action delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending_actions",
			Help:      "Pending actions observed at the start of the last replay.",
		},
	)

	contentCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "content_cache",
			Name:      "entries",
			Help:      "Entities held by the local content cache.",
		},
	)

	partitionsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "partitions_deleted_total",
			Help:      "Stale cache partitions removed during activation.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 when the backend is considered reachable.",
		},
	)
)

func init() {
	Registry.MustRegister(
		interceptedRequests,
		replayDeliveries,
		queueDepth,
		contentCacheEntries,
		partitionsDeleted,
		online,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordIntercept counts one intercepted request.
func RecordIntercept(strategy, outcome string) {
	interceptedRequests.WithLabelValues(strategy, outcome).Inc()
}

// RecordDelivery counts one delivery attempt; outcome is delivered, failed or skipped.
func RecordDelivery(outcome string) {
	replayDeliveries.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func SetContentCacheEntries(n int) {
	contentCacheEntries.Set(float64(n))
}

func AddPartitionsDeleted(n int) {
	partitionsDeleted.Add(float64(n))
}

// SetOnline records the connectivity state.
func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}
