package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer receives guard outcomes. Metrics implements it; a nil Observer
// is replaced with a no-op by the guards.
type Observer interface {
	// GuardCheck records a guard decision. result is "allowed", "rejected",
	// or "degraded".
	GuardCheck(guard, result string)

	// LimitHit records which window caused a rejection.
	LimitHit(guard, window string)

	// BudgetUsage records committed spend as a fraction of a cap.
	BudgetUsage(policy, window string, fraction float64)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) GuardCheck(string, string)            {}
func (NopObserver) LimitHit(string, string)              {}
func (NopObserver) BudgetUsage(string, string, float64) {}

// Metrics contains Prometheus metrics for the guards.
type Metrics struct {
	guardChecks *prometheus.CounterVec
	limitHits   *prometheus.CounterVec
	budgetUsage *prometheus.GaugeVec
}

// NewMetrics registers guard metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		guardChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "checks_total",
				Help:      "Guard decisions by guard and result (allowed, rejected, degraded)",
			},
			[]string{"guard", "result"},
		),
		limitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "limit_hits_total",
				Help:      "Rejections by guard and the window that was exhausted",
			},
			[]string{"guard", "window"},
		),
		budgetUsage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "guard",
				Name:      "budget_usage_ratio",
				Help:      "Committed spend as a fraction of the cap, last observed per policy and window",
			},
			[]string{"policy", "window"},
		),
	}
}

// GuardCheck implements Observer.
func (m *Metrics) GuardCheck(guard, result string) {
	m.guardChecks.WithLabelValues(guard, result).Inc()
}

// LimitHit implements Observer.
func (m *Metrics) LimitHit(guard, window string) {
	m.limitHits.WithLabelValues(guard, window).Inc()
}

// BudgetUsage implements Observer.
func (m *Metrics) BudgetUsage(policy, window string, fraction float64) {
	m.budgetUsage.WithLabelValues(policy, window).Set(fraction)
}
