package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/warden/pkg/config"
)

// UpstreamMetrics tracks the forwarded call.
type UpstreamMetrics struct {
	namespace string
	registry  prometheus.Registerer

	duration    *prometheus.HistogramVec
	errorsTotal prometheus.Counter
}

// NewUpstreamMetrics registers upstream metrics on registry.
func NewUpstreamMetrics(cfg config.MetricsConfig, registry prometheus.Registerer) *UpstreamMetrics {
	factory := promauto.With(registry)
	return &UpstreamMetrics{
		namespace: cfg.Namespace,
		registry:  registry,
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream call duration in seconds by routed model",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"model"},
		),
		errorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_errors_total",
				Help:      "Requests that failed upstream",
			},
		),
	}
}

// RecordLatency observes one upstream call.
func (m *UpstreamMetrics) RecordLatency(model string, d time.Duration) {
	m.duration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordError counts one upstream failure.
func (m *UpstreamMetrics) RecordError() {
	m.errorsTotal.Inc()
}

// Observe registers a 1/0 health gauge for the named upstream.
func (m *UpstreamMetrics) Observe(name string, healthy func() bool) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   m.namespace,
			Name:        "upstream_healthy",
			Help:        "Passive upstream health (1 healthy, 0 unhealthy)",
			ConstLabels: prometheus.Labels{"upstream": name},
		},
		func() float64 {
			if healthy() {
				return 1
			}
			return 0
		},
	)
}
