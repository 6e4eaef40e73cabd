package config

import "time"

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyPolicyDefaults(&cfg.Policy)
	applyStorageDefaults(&cfg.Storage)
	applyUpstreamDefaults(&cfg.Upstream)
	applyLimitsDefaults(&cfg.Limits)
	applyCacheDefaults(&cfg.Cache)
	applyEvidenceDefaults(&cfg.Evidence)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = "127.0.0.1:8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 90 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 120 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.MaxRequestBytes == 0 {
		s.MaxRequestBytes = 10 << 20
	}
	if s.MaxRPS > 0 && s.Burst == 0 {
		s.Burst = max(1, int(2*s.MaxRPS))
	}
	if s.ClientIDHeader == "" {
		s.ClientIDHeader = "X-Warden-Client"
	}
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = "1.2"
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = 5 * time.Minute
	}
}

func applyPolicyDefaults(p *PolicyConfig) {
	if p.DefaultPolicy == "" {
		p.DefaultPolicy = "default"
	}
	if p.DebounceInterval == 0 {
		p.DebounceInterval = 100 * time.Millisecond
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.OperationTimeout == 0 {
		s.OperationTimeout = 250 * time.Millisecond
	}
	if s.Redis.Address == "" {
		s.Redis.Address = "localhost:6379"
	}
	if s.Redis.DialTimeout == 0 {
		s.Redis.DialTimeout = 5 * time.Second
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = "warden:"
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = "data/warden.db"
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = 5 * time.Second
	}
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	if u.Name == "" {
		u.Name = "openai"
	}
	if u.BaseURL == "" {
		u.BaseURL = "https://api.openai.com/v1"
	}
	if u.Timeout == 0 {
		u.Timeout = 60 * time.Second
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if l.FailureMode == "" {
		l.FailureMode = "open"
	}
	if l.AlertThresholds == nil {
		l.AlertThresholds = []float64{0.8, 0.95}
	}
	if l.SettleTimeout == 0 {
		l.SettleTimeout = 2 * time.Second
	}
	if l.Prices == nil {
		l.Prices = defaultPrices()
	}
	if l.Tokens.MessageOverhead == 0 {
		l.Tokens.MessageOverhead = 4
	}
	if l.Tokens.DefaultCompletion == 0 {
		l.Tokens.DefaultCompletion = 500
	}
}

// defaultPrices is a small built-in table; deployments should configure
// their own.
func defaultPrices() map[string]Price {
	return map[string]Price{
		"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4":       {InputPer1K: 0.03, OutputPer1K: 0.06},
		"gpt-3.5":     {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		"default":     {InputPer1K: 0.01, OutputPer1K: 0.03},
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Backend == "" {
		c.Backend = "shared"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 64
	}
	if c.Digest == "" {
		c.Digest = "sha256"
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
}

func applyEvidenceDefaults(e *EvidenceConfig) {
	if e.Backend == "" {
		e.Backend = "sqlite"
	}
	if e.Path == "" {
		e.Path = "data/evidence.db"
	}
	if e.BufferSize == 0 {
		e.BufferSize = 1000
	}
	if e.WriteTimeout == 0 {
		e.WriteTimeout = 5 * time.Second
	}
	if e.RetentionDays == 0 {
		e.RetentionDays = 90
	}
	if e.PruneSchedule == "" {
		e.PruneSchedule = "0 3 * * *"
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = "info"
	}
	if t.Logging.Format == "" {
		t.Logging.Format = "json"
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = "/metrics"
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = "warden"
	}
	if t.Metrics.RequestDurationBuckets == nil {
		t.Metrics.RequestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
	}
	if t.Metrics.MaxModelLabels == 0 {
		t.Metrics.MaxModelLabels = 200
	}

	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = "localhost:4317"
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = "warden"
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = "ratio"
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = 0.1
	}
	if t.Tracing.ExportTimeout == 0 {
		t.Tracing.ExportTimeout = 10 * time.Second
	}

	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = 2 * time.Second
	}
}
