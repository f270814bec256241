// Package metrics provides Prometheus metrics for the journaling engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Turn pipeline metrics
	TurnsTotal      prometheus.Counter
	TurnDuration    prometheus.Histogram
	AdapterFailures *prometheus.CounterVec
	AdapterRetries  *prometheus.CounterVec

	// Aggregation metrics
	DigestBuildsTotal prometheus.Counter
	WrapsTotal        *prometheus.CounterVec

	// Store metrics
	StoreOperationsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.TurnsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "luna_turns_total",
			Help: "Total number of journal turns processed",
		},
	)

	m.TurnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "luna_turn_duration_seconds",
			Help:    "End-to-end duration of turn processing in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	m.AdapterFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luna_adapter_failures_total",
			Help: "Total number of failed external adapter calls",
		},
		[]string{"adapter"},
	)

	m.AdapterRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luna_adapter_retries_total",
			Help: "Total number of retried external adapter calls",
		},
		[]string{"adapter"},
	)

	m.DigestBuildsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "luna_digest_builds_total",
			Help: "Total number of weekly digests built",
		},
	)

	m.WrapsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luna_wraps_total",
			Help: "Total number of weekly wrap requests",
		},
		[]string{"status"},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luna_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	return m
}

// ObserveTurn records one processed turn with its duration.
func (m *Metrics) ObserveTurn(duration time.Duration) {
	m.TurnsTotal.Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation outcome.
func (m *Metrics) RecordStoreOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
}
