package policy

import (
	"fmt"
	"slices"

	"mercator-hq/warden/pkg/policy/condition"
)

// Entities is the catalog of PII entity types a policy may enable, in
// detection priority order.
var Entities = []string{
	"email",
	"phone",
	"ssn",
	"credit_card",
	"api_key",
	"aws_key",
	"ip_address",
}

// Validate checks required fields and cross-field invariants. It reports
// every violation in a single *ValidationError. On success it compiles the
// routing conditions so Routes can be used.
func (p *Policy) Validate() error {
	errs := &ValidationError{}
	name := p.Name

	if p.Name == "" {
		errs.Add(name, "name", "name is required", nil)
	}

	if c := p.CostLimits; c != nil {
		if c.MaxPerRequest < 0 {
			errs.Add(name, "cost_limits.max_per_request", "must be >= 0", nil)
		}
		if c.MaxPerMinute < 0 {
			errs.Add(name, "cost_limits.max_per_minute", "must be >= 0", nil)
		}
		if c.DailyCap < 0 {
			errs.Add(name, "cost_limits.daily_cap", "must be >= 0", nil)
		}
		validateScope(errs, name, "cost_limits.scope", c.Scope)
		validateFailureMode(errs, name, "cost_limits.failure_mode", c.FailureMode)
	}

	if r := p.RateLimits; r != nil {
		if r.RequestsPerMinute < 0 {
			errs.Add(name, "rate_limits.requests_per_minute", "must be >= 0", nil)
		}
		if r.RequestsPerHour < 0 {
			errs.Add(name, "rate_limits.requests_per_hour", "must be >= 0", nil)
		}
		if r.RequestsPerDay < 0 {
			errs.Add(name, "rate_limits.requests_per_day", "must be >= 0", nil)
		}
		validateScope(errs, name, "rate_limits.scope", r.Scope)
		validateFailureMode(errs, name, "rate_limits.failure_mode", r.FailureMode)
	}

	if pii := p.PII; pii != nil {
		switch pii.Action {
		case ActionRedact, ActionBlock, ActionWarn, ActionHash:
		case "":
			if pii.Enabled {
				errs.Add(name, "pii_detection.action", "action is required when detection is enabled", nil)
			}
		default:
			errs.Add(name, "pii_detection.action", fmt.Sprintf("unknown action %q (want redact, block, warn, or hash)", pii.Action), nil)
		}
		for i, e := range pii.Entities {
			if !slices.Contains(Entities, e) {
				errs.Add(name, fmt.Sprintf("pii_detection.entities[%d]", i), fmt.Sprintf("unsupported entity %q", e), nil)
			}
		}
	}

	if c := p.Cache; c != nil {
		if c.TTLSeconds < 0 {
			errs.Add(name, "caching.ttl_seconds", "must be >= 0", nil)
		}
		if c.MaxSizeMB < 0 {
			errs.Add(name, "caching.max_cache_size_mb", "must be >= 0", nil)
		}
	}

	routes := p.validateRouting(errs)

	if errs.HasErrors() {
		return errs
	}
	p.routes = routes
	return nil
}

// validateRouting compiles the routing rules and enforces exactly one
// terminal default rule. An empty rule list is allowed and means "use the
// requested model".
func (p *Policy) validateRouting(errs *ValidationError) []condition.Condition {
	if len(p.Routing) == 0 {
		return nil
	}

	routes := make([]condition.Condition, 0, len(p.Routing))
	defaults := 0
	for i, rule := range p.Routing {
		path := fmt.Sprintf("model_routing[%d]", i)
		if rule.Model == "" {
			errs.Add(p.Name, path+".model", "model is required", nil)
		}
		c, err := condition.Parse(rule.Condition)
		if err != nil {
			errs.Add(p.Name, path+".condition", err.Error(), err)
			continue
		}
		if c.IsDefault() {
			defaults++
			if i != len(p.Routing)-1 {
				errs.Add(p.Name, path+".condition", "default rule must be the last rule", nil)
			}
		}
		routes = append(routes, c)
	}

	switch {
	case defaults == 0:
		errs.Add(p.Name, "model_routing", "a terminal default rule is required", nil)
	case defaults > 1:
		errs.Add(p.Name, "model_routing", fmt.Sprintf("exactly one default rule is allowed, found %d", defaults), nil)
	}

	return routes
}

func validateScope(errs *ValidationError, name, path string, s Scope) {
	switch s {
	case "", ScopeClient, ScopeGlobal:
	default:
		errs.Add(name, path, fmt.Sprintf("unknown scope %q (want client or global)", s), nil)
	}
}

func validateFailureMode(errs *ValidationError, name, path string, m FailureMode) {
	switch m {
	case "", FailOpen, FailClosed:
	default:
		errs.Add(name, path, fmt.Sprintf("unknown failure mode %q (want open or closed)", m), nil)
	}
}
