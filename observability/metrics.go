package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics records the activity of credit pool operations.
type PoolMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolMetrics
)

// Pool returns the lazily-initialised singleton metrics registry for pool
// operations.
func Pool() *PoolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditpool",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Count of pool operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditpool",
				Subsystem: "pool",
				Name:      "errors_total",
				Help:      "Count of failed pool operations segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "creditpool",
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for pool operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.errors,
			poolRegistry.latency,
		)
	})
	return poolRegistry
}

// Observe records the outcome and latency of a single pool operation.
func (m *PoolMetrics) Observe(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(operation).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
