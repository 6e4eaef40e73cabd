package policy

import (
	"time"

	"mercator-hq/warden/pkg/policy/condition"
)

// Policy is a named bundle of governance rules. A loaded Policy is never
// mutated; reloads replace it.
type Policy struct {
	// Name identifies the policy. Required.
	Name string `yaml:"name"`

	// Description is free-form documentation.
	Description string `yaml:"description,omitempty"`

	// Enabled turns the policy's guards on. A disabled policy forwards
	// requests without checks. Defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`

	// CostLimits configures spend caps. Nil disables cost enforcement.
	CostLimits *CostLimits `yaml:"cost_limits,omitempty"`

	// RateLimits configures request quotas. Nil disables rate limiting.
	RateLimits *RateLimits `yaml:"rate_limits,omitempty"`

	// Routing is evaluated top to bottom; the last rule must be "default".
	Routing []RoutingRule `yaml:"model_routing,omitempty"`

	// PII configures sensitive-data detection.
	PII *PIIConfig `yaml:"pii_detection,omitempty"`

	// Cache configures response caching.
	Cache *CacheConfig `yaml:"caching,omitempty"`

	// Logging controls what the gateway records for this policy.
	Logging *LoggingConfig `yaml:"logging,omitempty"`

	// routes holds the compiled routing conditions, set by Validate.
	routes []condition.Condition
}

// Scope selects how counters are shared.
type Scope string

const (
	// ScopeClient keeps separate counters per client identity.
	ScopeClient Scope = "client"

	// ScopeGlobal shares counters across every client of the policy.
	ScopeGlobal Scope = "global"
)

// FailureMode selects guard behaviour when the shared store is down.
type FailureMode string

const (
	// FailOpen allows the request and logs the degradation.
	FailOpen FailureMode = "open"

	// FailClosed rejects the request.
	FailClosed FailureMode = "closed"
)

// CostLimits are spend caps in USD.
type CostLimits struct {
	// MaxPerRequest caps the estimated cost of a single request.
	MaxPerRequest float64 `yaml:"max_per_request"`

	// MaxPerMinute caps spend within a wall-clock minute.
	MaxPerMinute float64 `yaml:"max_per_minute"`

	// DailyCap caps spend within a UTC day.
	DailyCap float64 `yaml:"daily_cap"`

	// Scope is "client" (default) or "global".
	Scope Scope `yaml:"scope,omitempty"`

	// FailureMode overrides the configured default when set.
	FailureMode FailureMode `yaml:"failure_mode,omitempty"`
}

// RateLimits are request quotas. Zero disables a window.
type RateLimits struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	RequestsPerHour   int64 `yaml:"requests_per_hour"`
	RequestsPerDay    int64 `yaml:"requests_per_day"`

	// Scope is "client" (default) or "global".
	Scope Scope `yaml:"scope,omitempty"`

	// FailureMode overrides the configured default when set.
	FailureMode FailureMode `yaml:"failure_mode,omitempty"`
}

// RoutingRule maps a condition to a target model.
type RoutingRule struct {
	Condition string `yaml:"condition"`
	Model     string `yaml:"model"`
}

// Action is what the PII detector does with a finding.
type Action string

const (
	ActionRedact Action = "redact"
	ActionBlock  Action = "block"
	ActionWarn   Action = "warn"
	ActionHash   Action = "hash"
)

// PIIConfig configures sensitive-data handling.
type PIIConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Action   Action   `yaml:"action"`
	Entities []string `yaml:"entities"`
}

// CacheConfig configures response caching.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// TTLSeconds is how long a cached response stays valid. Zero disables
	// storing new entries.
	TTLSeconds int `yaml:"ttl_seconds"`

	// MaxSizeMB bounds the in-process cache backend. Zero means unbounded.
	MaxSizeMB int `yaml:"max_cache_size_mb"`
}

// TTL returns the cache TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoggingConfig selects which request details are logged.
type LoggingConfig struct {
	LogRequests  bool `yaml:"log_requests"`
	LogResponses bool `yaml:"log_responses"`
	LogCosts     bool `yaml:"log_costs"`
}

// IsEnabled reports whether the policy's guards apply.
func (p *Policy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Routes returns the compiled routing conditions in rule order.
// It is only populated on validated policies.
func (p *Policy) Routes() []condition.Condition {
	return p.routes
}

// CostScope returns the effective cost scope.
func (p *Policy) CostScope() Scope {
	if p.CostLimits == nil || p.CostLimits.Scope == "" {
		return ScopeClient
	}
	return p.CostLimits.Scope
}

// RateScope returns the effective rate-limit scope.
func (p *Policy) RateScope() Scope {
	if p.RateLimits == nil || p.RateLimits.Scope == "" {
		return ScopeClient
	}
	return p.RateLimits.Scope
}

// PIIEnabled reports whether PII detection runs for this policy.
func (p *Policy) PIIEnabled() bool {
	return p.PII != nil && p.PII.Enabled
}

// CacheEnabled reports whether response caching runs for this policy.
func (p *Policy) CacheEnabled() bool {
	return p.Cache != nil && p.Cache.Enabled
}
