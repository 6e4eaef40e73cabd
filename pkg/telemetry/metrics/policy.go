package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/warden/pkg/config"
)

// PolicyMetrics covers enforcement outcomes and policy reloads.
type PolicyMetrics struct {
	blocksTotal    *prometheus.CounterVec
	degradedTotal  *prometheus.CounterVec
	piiFindings    *prometheus.CounterVec
	reloadsTotal   *prometheus.CounterVec
	policiesLoaded prometheus.Gauge
}

// NewPolicyMetrics registers policy metrics on registry.
func NewPolicyMetrics(cfg config.MetricsConfig, registry prometheus.Registerer) *PolicyMetrics {
	factory := promauto.With(registry)
	return &PolicyMetrics{
		blocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "blocks_total",
				Help:      "Blocked requests by policy and violation kind",
			},
			[]string{"policy", "kind"},
		),
		degradedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "degraded_total",
				Help:      "Requests admitted with a guard failing open",
			},
			[]string{"policy"},
		),
		piiFindings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "pii_findings_total",
				Help:      "Requests with PII findings by entity type",
			},
			[]string{"type"},
		),
		reloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "policy_reloads_total",
				Help:      "Policy reload attempts by result",
			},
			[]string{"result"},
		),
		policiesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "policies_loaded",
				Help:      "Policies in the active snapshot",
			},
		),
	}
}

// RecordBlock counts a blocked request.
func (m *PolicyMetrics) RecordBlock(policy, kind string) {
	m.blocksTotal.WithLabelValues(policy, kind).Inc()
}

// RecordDegraded counts a fail-open admission.
func (m *PolicyMetrics) RecordDegraded(policy string) {
	m.degradedTotal.WithLabelValues(policy).Inc()
}

// RecordPII counts one request in which typ was found.
func (m *PolicyMetrics) RecordPII(typ string) {
	m.piiFindings.WithLabelValues(typ).Inc()
}

// RecordReload counts a reload. The loaded gauge only moves on success.
func (m *PolicyMetrics) RecordReload(success bool, policies int) {
	if !success {
		m.reloadsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.reloadsTotal.WithLabelValues("success").Inc()
	m.policiesLoaded.Set(float64(policies))
}
