package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError is one invalid field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError collects every invalid field.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid config: " + e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("invalid config (%d errors): %s", len(e.Errors), strings.Join(msgs, "; "))
}

type validator struct {
	errs []FieldError
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.add(field, "must be one of %s, got %q", strings.Join(allowed, ", "), value)
}

// Validate checks cfg and returns a *ValidationError listing every
// problem, or nil.
func Validate(cfg *Config) error {
	v := &validator{}
	validateServer(v, &cfg.Server, &cfg.Upstream)
	validatePolicy(v, &cfg.Policy)
	validateStorage(v, &cfg.Storage)
	validateUpstream(v, &cfg.Upstream)
	validateLimits(v, &cfg.Limits)
	validateCache(v, &cfg.Cache)
	validateEvidence(v, &cfg.Evidence)
	validateTelemetry(v, &cfg.Telemetry)
	if len(v.errs) > 0 {
		return &ValidationError{Errors: v.errs}
	}
	return nil
}

func validateServer(v *validator, s *ServerConfig, u *UpstreamConfig) {
	if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		v.add("server.listen_address", "must be host:port: %v", err)
	}
	if s.ReadTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		v.add("server", "timeouts must not be negative")
	}
	if s.WriteTimeout <= u.Timeout {
		v.add("server.write_timeout", "must exceed upstream.timeout (%s)", u.Timeout)
	}
	if s.MaxRequestBytes <= 0 {
		v.add("server.max_request_bytes", "must be positive")
	}
	if s.MaxRPS < 0 {
		v.add("server.max_rps", "must not be negative")
	}
	if s.MaxRPS > 0 && s.Burst < 1 {
		v.add("server.burst", "must be at least 1 when max_rps is set")
	}
	if s.TLS.Enabled && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		v.add("server.tls", "cert_file and key_file are required when TLS is enabled")
	}
	v.oneOf("server.tls.min_version", s.TLS.MinVersion, "1.2", "1.3")
	if s.TLS.ReloadInterval < 0 {
		v.add("server.tls.cert_reload_interval", "must not be negative")
	}
}

func validatePolicy(v *validator, p *PolicyConfig) {
	if p.DebounceInterval < 0 {
		v.add("policy.debounce_interval", "must not be negative")
	}
}

func validateStorage(v *validator, s *StorageConfig) {
	v.oneOf("storage.backend", s.Backend, "memory", "redis", "sqlite")
	if s.OperationTimeout <= 0 {
		v.add("storage.operation_timeout", "must be positive")
	}
	if s.Redis.DB < 0 {
		v.add("storage.redis.db", "must not be negative")
	}
}

func validateUpstream(v *validator, u *UpstreamConfig) {
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		v.add("upstream.base_url", "must be an http(s) URL, got %q", u.BaseURL)
	}
	if u.Timeout <= 0 {
		v.add("upstream.timeout", "must be positive")
	}
	if u.MaxRetries < 0 {
		v.add("upstream.max_retries", "must not be negative")
	}
}

func validateLimits(v *validator, l *LimitsConfig) {
	v.oneOf("limits.failure_mode", l.FailureMode, "open", "closed")
	for i, t := range l.AlertThresholds {
		if t <= 0 || t > 1 {
			v.add(fmt.Sprintf("limits.alert_thresholds[%d]", i), "must be in (0, 1], got %g", t)
		}
	}
	if l.SettleTimeout <= 0 {
		v.add("limits.settle_timeout", "must be positive")
	}
	if _, ok := l.Prices["default"]; !ok {
		v.add("limits.prices", "must include a \"default\" entry")
	}
	for model, p := range l.Prices {
		if p.InputPer1K < 0 || p.OutputPer1K < 0 {
			v.add("limits.prices."+model, "prices must not be negative")
		}
	}
	for model, r := range l.Tokens.CharsPerToken {
		if r <= 0 {
			v.add("limits.tokens.chars_per_token."+model, "must be positive")
		}
	}
	if l.Tokens.MessageOverhead < 0 {
		v.add("limits.tokens.message_overhead", "must not be negative")
	}
	if l.Tokens.DefaultCompletion < 0 {
		v.add("limits.tokens.default_completion", "must not be negative")
	}
}

func validateCache(v *validator, c *CacheConfig) {
	v.oneOf("cache.backend", c.Backend, "shared", "local")
	v.oneOf("cache.digest", c.Digest, "sha256", "blake3")
	if c.MaxSizeMB < 0 {
		v.add("cache.max_size_mb", "must not be negative")
	}
	if c.CleanupInterval < 0 {
		v.add("cache.cleanup_interval", "must not be negative")
	}
}

func validateEvidence(v *validator, e *EvidenceConfig) {
	if !e.IsEnabled() {
		return
	}
	v.oneOf("evidence.backend", e.Backend, "sqlite", "memory")
	if e.BufferSize < 1 {
		v.add("evidence.buffer_size", "must be at least 1")
	}
	if e.RetentionDays < -1 {
		v.add("evidence.retention_days", "must be -1 or more")
	}
	if e.MaxRecords < 0 {
		v.add("evidence.max_records", "must not be negative")
	}
	if e.PruneSchedule != "" {
		if _, err := cron.ParseStandard(e.PruneSchedule); err != nil {
			v.add("evidence.prune_schedule", "%s", err)
		}
	}
}

func validateTelemetry(v *validator, t *TelemetryConfig) {
	v.oneOf("telemetry.logging.level", strings.ToLower(t.Logging.Level), "debug", "info", "warn", "warning", "error")
	v.oneOf("telemetry.logging.format", t.Logging.Format, "json", "text", "console")

	if !strings.HasPrefix(t.Metrics.Path, "/") {
		v.add("telemetry.metrics.path", "must start with /")
	}
	for i := 1; i < len(t.Metrics.RequestDurationBuckets); i++ {
		if t.Metrics.RequestDurationBuckets[i] <= t.Metrics.RequestDurationBuckets[i-1] {
			v.add("telemetry.metrics.request_duration_buckets", "must be strictly increasing")
			break
		}
	}
	if t.Metrics.MaxModelLabels < 1 {
		v.add("telemetry.metrics.max_model_labels", "must be at least 1")
	}

	if t.Tracing.Enabled {
		v.oneOf("telemetry.tracing.sampler", t.Tracing.Sampler, "always", "never", "ratio")
		if t.Tracing.SampleRatio < 0 || t.Tracing.SampleRatio > 1 {
			v.add("telemetry.tracing.sample_ratio", "must be in [0, 1]")
		}
		if t.Tracing.Endpoint == "" {
			v.add("telemetry.tracing.endpoint", "is required when tracing is enabled")
		}
	}

	if t.Health.CheckTimeout <= 0 {
		v.add("telemetry.health.check_timeout", "must be positive")
	}
}
