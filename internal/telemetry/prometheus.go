package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports operation latency and outcome counters.
type PrometheusRecorder struct {
	latency *prometheus.HistogramVec
	total   *prometheus.CounterVec
}

// NewPrometheusRecorder registers the reduction metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reduction",
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Latency of state building, pipeline and export operations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation", "status"}),
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reduction",
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Operations by outcome",
		}, []string{"operation", "status"}),
	}
}

// Observe records an operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	st := status(success)
	r.latency.WithLabelValues(operation, st).Observe(duration.Seconds())
	r.total.WithLabelValues(operation, st).Inc()
}
