package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/warden/pkg/config"
)

// CostMetrics accumulates spend in USD.
type CostMetrics struct {
	actualTotal    *prometheus.CounterVec
	estimatedTotal *prometheus.CounterVec
}

// NewCostMetrics registers cost metrics on registry.
func NewCostMetrics(cfg config.MetricsConfig, registry prometheus.Registerer) *CostMetrics {
	factory := promauto.With(registry)
	return &CostMetrics{
		actualTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cost_usd_total",
				Help:      "Committed spend in USD by policy and routed model",
			},
			[]string{"policy", "model"},
		),
		estimatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "cost_estimated_usd_total",
				Help:      "Pre-flight cost estimates in USD by policy",
			},
			[]string{"policy"},
		),
	}
}

// Record adds one request's estimate and actual cost. Zero values are not
// recorded.
func (m *CostMetrics) Record(policy, model string, estimated, actual float64) {
	if estimated > 0 {
		m.estimatedTotal.WithLabelValues(policy).Add(estimated)
	}
	if actual > 0 {
		m.actualTotal.WithLabelValues(policy, model).Add(actual)
	}
}
