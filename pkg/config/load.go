package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides is Load with WARDEN_* environment variables applied
// before validation.
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults. It does not validate. An empty
// document yields the default configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func read(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"WARDEN_LISTEN_ADDRESS", &cfg.Server.ListenAddress},
		{"WARDEN_POLICY_PATH", &cfg.Policy.Path},
		{"WARDEN_STORAGE_BACKEND", &cfg.Storage.Backend},
		{"WARDEN_REDIS_ADDRESS", &cfg.Storage.Redis.Address},
		{"WARDEN_UPSTREAM_URL", &cfg.Upstream.BaseURL},
		{"WARDEN_UPSTREAM_API_KEY", &cfg.Upstream.APIKey},
		{"WARDEN_LOG_LEVEL", &cfg.Telemetry.Logging.Level},
		{"WARDEN_RATE_FAILURE_MODE", &cfg.Limits.FailureMode},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.env); ok && v != "" {
			*s.dst = v
		}
	}

	if v := os.Getenv("WARDEN_MAX_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WARDEN_MAX_RPS: %w", err)
		}
		cfg.Server.MaxRPS = rps
		if cfg.Server.Burst == 0 && rps > 0 {
			cfg.Server.Burst = max(1, int(2*rps))
		}
	}
	return nil
}
