package policy

// DefaultName is the name of the built-in policy.
const DefaultName = "default"

// Default returns the built-in policy used when no policy file defines
// the requested name. Each call returns a fresh, validated copy.
func Default() *Policy {
	enabled := true
	p := &Policy{
		Name:        DefaultName,
		Description: "Built-in policy",
		Enabled:     &enabled,
		CostLimits: &CostLimits{
			MaxPerRequest: 0.03,
			MaxPerMinute:  1.0,
			DailyCap:      100.0,
		},
		RateLimits: &RateLimits{
			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			RequestsPerDay:    10000,
		},
		Routing: []RoutingRule{
			{Condition: "request.max_tokens < 100", Model: "gpt-3.5-turbo"},
			{Condition: "default", Model: "gpt-4o-mini"},
		},
		PII: &PIIConfig{
			Enabled:  false,
			Action:   ActionRedact,
			Entities: []string{"email", "phone", "ssn", "credit_card"},
		},
		Cache: &CacheConfig{
			Enabled:    true,
			TTLSeconds: 3600,
			MaxSizeMB:  100,
		},
		Logging: &LoggingConfig{
			LogRequests:  true,
			LogResponses: false,
			LogCosts:     true,
		},
	}
	if err := p.Validate(); err != nil {
		panic("built-in policy is invalid: " + err.Error())
	}
	return p
}
