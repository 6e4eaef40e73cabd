package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/warden/pkg/config"
)

// CacheMetrics tracks response cache lookups.
type CacheMetrics struct {
	namespace string
	registry  prometheus.Registerer
	requests  *prometheus.CounterVec
}

// NewCacheMetrics registers cache metrics on registry.
func NewCacheMetrics(cfg config.MetricsConfig, registry prometheus.Registerer) *CacheMetrics {
	return &CacheMetrics{
		namespace: cfg.Namespace,
		registry:  registry,
		requests: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cache_requests_total",
				Help:      "Response cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
	}
}

// Record counts one lookup.
func (m *CacheMetrics) Record(hit bool) {
	if hit {
		m.requests.WithLabelValues("hit").Inc()
		return
	}
	m.requests.WithLabelValues("miss").Inc()
}

// ObserveBytes registers a gauge reading used at scrape time.
func (m *CacheMetrics) ObserveBytes(used func() int64) {
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      "cache_local_bytes",
			Help:      "Bytes held by the local response cache",
		},
		func() float64 { return float64(used()) },
	)
}
