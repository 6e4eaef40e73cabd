package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/pipeline"
)

// Outcome label values of requests_total.
const (
	OutcomeServed   = "served"
	OutcomeCached   = "cached"
	OutcomeBlocked  = "blocked"
	OutcomeCanceled = "canceled"
)

// otherModel replaces model labels beyond the cardinality limit.
const otherModel = "other"

// Collector records gateway metrics on its own registry.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	requests *RequestMetrics
	policies *PolicyMetrics
	costs    *CostMetrics
	cache    *CacheMetrics
	upstream *UpstreamMetrics
	guards   *limits.Metrics

	models *CardinalityLimiter
}

// NewCollector registers every gateway metric on registry. A nil registry
// gets a fresh one with the Go and process collectors attached.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "warden"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	}
	if cfg.MaxModelLabels <= 0 {
		cfg.MaxModelLabels = 200
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		requests: NewRequestMetrics(cfg, registry),
		policies: NewPolicyMetrics(cfg, registry),
		costs:    NewCostMetrics(cfg, registry),
		cache:    NewCacheMetrics(cfg, registry),
		upstream: NewUpstreamMetrics(cfg, registry),
		guards:   limits.NewMetrics(registry, cfg.Namespace),
		models:   NewCardinalityLimiter(cfg.MaxModelLabels),
	}
}

// Emit implements pipeline.Sink.
func (c *Collector) Emit(_ context.Context, e pipeline.Event) {
	outcome := OutcomeServed
	switch {
	case e.Canceled:
		outcome = OutcomeCanceled
	case e.BlockedKind != "":
		outcome = OutcomeBlocked
	case e.CacheHit:
		outcome = OutcomeCached
	}
	c.requests.Record(e.Policy, outcome, e.Latency)

	if e.BlockedKind != "" {
		c.policies.RecordBlock(e.Policy, string(e.BlockedKind))
		if e.BlockedKind == pipeline.KindUpstreamError {
			c.upstream.RecordError()
		}
	}
	if e.Degraded {
		c.policies.RecordDegraded(e.Policy)
	}

	model := c.model(e.Model)
	c.costs.Record(e.Policy, model, e.EstimatedCost, e.ActualCost)

	if e.CacheChecked {
		c.cache.Record(e.CacheHit)
	}
	for _, typ := range e.PIITypes {
		c.policies.RecordPII(typ)
	}
	if e.UpstreamLatency > 0 {
		c.upstream.RecordLatency(model, e.UpstreamLatency)
	}
}

// PolicyReload implements the policy manager's ReloadObserver.
func (c *Collector) PolicyReload(success bool, policies int) {
	c.policies.RecordReload(success, policies)
}

// Guards returns the observer for the rate limiter and cost guard.
func (c *Collector) Guards() *limits.Metrics {
	return c.guards
}

// ObserveUpstream exports healthy as warden_upstream_healthy{upstream=name}.
// It is evaluated at scrape time.
func (c *Collector) ObserveUpstream(name string, healthy func() bool) {
	c.upstream.Observe(name, healthy)
}

// ObserveCacheBytes exports the local cache's byte usage, evaluated at
// scrape time.
func (c *Collector) ObserveCacheBytes(used func() int64) {
	c.cache.ObserveBytes(used)
}

// Registry returns the registry metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) model(m string) string {
	if m == "" {
		return "none"
	}
	if !c.models.Allow(m) {
		return otherModel
	}
	return m
}

// CardinalityLimiter bounds the number of distinct label values admitted.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is admitted. Values already seen are always
// admitted.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
