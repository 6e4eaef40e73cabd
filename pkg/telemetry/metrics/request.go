package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/warden/pkg/config"
)

// RequestMetrics counts requests and their end-to-end latency.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRequestMetrics registers request metrics on registry.
func NewRequestMetrics(cfg config.MetricsConfig, registry prometheus.Registerer) *RequestMetrics {
	factory := promauto.With(registry)
	return &RequestMetrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Requests processed by policy and outcome (served, cached, blocked, canceled)",
			},
			[]string{"policy", "outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end governed request duration in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"policy"},
		),
	}
}

// Record counts one request.
func (m *RequestMetrics) Record(policy, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(policy, outcome).Inc()
	if d > 0 {
		m.requestDuration.WithLabelValues(policy).Observe(d.Seconds())
	}
}
