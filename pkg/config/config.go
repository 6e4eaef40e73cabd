package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Policy    PolicyConfig    `yaml:"policy"`
	Storage   StorageConfig   `yaml:"storage"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Limits    LimitsConfig    `yaml:"limits"`
	Cache     CacheConfig     `yaml:"cache"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is host:port. Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the whole request. Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. It must exceed the
	// upstream timeout. Default: 90s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive timeout. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxRequestBytes bounds the request body. Default: 10MB
	MaxRequestBytes int64 `yaml:"max_request_bytes"`

	// MaxRPS smooths admission per client before governance runs. Zero
	// disables it. Default: 0
	MaxRPS float64 `yaml:"max_rps"`

	// Burst is the admission bucket size. Default: max(1, 2*MaxRPS)
	Burst int `yaml:"burst"`

	// ClientIDHeader names a header that carries an explicit client
	// identity. Default: "X-Warden-Client"
	ClientIDHeader string `yaml:"client_id_header"`

	// TrustForwardedFor uses the first X-Forwarded-For address as the
	// client IP. Enable only behind a trusted proxy. Default: false
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig enables HTTPS on the listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3". Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// renewal. Default: 5m
	ReloadInterval time.Duration `yaml:"cert_reload_interval"`
}

// PolicyConfig locates the policy files.
type PolicyConfig struct {
	// Path is a policy file or a directory of *.yaml files. Empty runs
	// with the built-in default policy only.
	Path string `yaml:"path"`

	// DefaultPolicy names the policy used when a request names none.
	// Default: "default"
	DefaultPolicy string `yaml:"default_policy"`

	// Watch hot-reloads policies on file changes. Default: true
	Watch *bool `yaml:"watch"`

	// DebounceInterval coalesces bursts of file events. Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// WatchEnabled reports whether hot reload is on.
func (p PolicyConfig) WatchEnabled() bool {
	return p.Watch == nil || *p.Watch
}

// StorageConfig selects the shared counter store.
type StorageConfig struct {
	// Backend is memory, redis, or sqlite. Default: memory
	Backend string `yaml:"backend"`

	// OperationTimeout bounds every store call. Default: 250ms
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	Redis  RedisConfig  `yaml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	KeyPrefix   string        `yaml:"key_prefix"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file. Default: "data/warden.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database. Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// UpstreamConfig configures the OpenAI-compatible upstream.
type UpstreamConfig struct {
	// Name labels the upstream in logs. Default: "openai"
	Name string `yaml:"name"`

	// BaseURL is the API root. Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key"`

	// Timeout bounds the upstream call. Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries retries network errors, 429, and 5xx. Default: 0
	MaxRetries int `yaml:"max_retries"`

	// Headers are added to every upstream request.
	Headers map[string]string `yaml:"headers"`
}

// LimitsConfig holds guard-wide settings. Per-policy caps live in the
// policy files.
type LimitsConfig struct {
	// FailureMode is open or closed when the store is unavailable.
	// Policies may override it. Default: open
	FailureMode string `yaml:"failure_mode"`

	// AlertThresholds are fractions of the daily cost cap.
	// Default: [0.8, 0.95]
	AlertThresholds []float64 `yaml:"alert_thresholds"`

	// SettleTimeout bounds releasing or committing a reservation after
	// the caller has gone. Default: 2s
	SettleTimeout time.Duration `yaml:"settle_timeout"`

	// Prices maps model names or prefixes to USD per 1K tokens. The
	// "default" entry prices unknown models.
	Prices map[string]Price `yaml:"prices"`

	// Tokens tunes the estimator.
	Tokens TokensConfig `yaml:"tokens"`
}

// Price is USD per 1K tokens.
type Price struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// TokensConfig tunes token estimation.
type TokensConfig struct {
	// CharsPerToken maps a model or prefix to its ratio. Default: 4
	CharsPerToken map[string]float64 `yaml:"chars_per_token"`

	// MessageOverhead is added per message. Default: 4
	MessageOverhead int `yaml:"message_overhead"`

	// DefaultCompletion is assumed when max_tokens is unset. Default: 500
	DefaultCompletion int `yaml:"default_completion"`
}

// CacheConfig configures the response cache. Per-policy TTLs live in the
// policy files.
type CacheConfig struct {
	// Enabled turns the cache on for policies that ask for it.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend is shared (the storage backend) or local. Default: shared
	Backend string `yaml:"backend"`

	// MaxSizeMB is the local backend's byte budget. Default: 64
	MaxSizeMB int `yaml:"max_size_mb"`

	// Digest is sha256 or blake3. Default: sha256
	Digest string `yaml:"digest"`

	// CleanupInterval is the local backend's janitor period. Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports whether caching is on.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EvidenceConfig configures the audit trail.
type EvidenceConfig struct {
	// Enabled records one audit record per request. Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend is sqlite or memory. Default: sqlite
	Backend string `yaml:"backend"`

	// Path is the sqlite database file. Default: "data/evidence.db"
	Path string `yaml:"path"`

	// BufferSize is the async recorder queue. Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds one insert. Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays prunes older records. -1 keeps everything.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// MaxRecords caps the table by pruning the oldest rows. Zero is
	// unlimited.
	MaxRecords int64 `yaml:"max_records"`

	// ArchivePath, when set, receives a JSON export of every batch
	// before it is pruned.
	ArchivePath string `yaml:"archive_path"`

	// PruneSchedule is a cron expression. Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// IsEnabled reports whether audit recording is on.
func (e EvidenceConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// TelemetryConfig groups logging, metrics, and tracing.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`

	// Format is json, text, or console. Default: json
	Format string `yaml:"format"`

	// AddSource includes file:line. Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII scrubs PII from log output. Default: true
	RedactPII *bool `yaml:"redact_pii"`
}

// RedactEnabled reports whether log redaction is on.
func (l LoggingConfig) RedactEnabled() bool {
	return l.RedactPII == nil || *l.RedactPII
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes /metrics. Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the scrape path. Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric. Default: "warden"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets are histogram buckets in seconds.
	// Default: [0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`

	// MaxModelLabels caps distinct model label values; the rest are
	// reported as "other". Default: 200
	MaxModelLabels int `yaml:"max_model_labels"`
}

// IsEnabled reports whether metrics are exposed.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled exports spans over OTLP/gRPC. Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the collector host:port. Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector. Default: true
	Insecure *bool `yaml:"insecure"`

	// ServiceName is the resource service name. Default: "warden"
	ServiceName string `yaml:"service_name"`

	// Sampler is always, never, or ratio. Default: ratio
	Sampler string `yaml:"sampler"`

	// SampleRatio is used by the ratio sampler. Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// ExportTimeout bounds one export. Default: 10s
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// IsInsecure reports whether the exporter skips TLS.
func (t TracingConfig) IsInsecure() bool {
	return t.Insecure == nil || *t.Insecure
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check. Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
