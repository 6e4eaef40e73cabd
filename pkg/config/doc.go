// Package config loads the gateway's process configuration.
//
// Configuration is YAML. Loading applies defaults, then environment
// overrides, then validation, so the returned Config is always complete:
//
//	cfg, err := config.LoadWithEnvOverrides("config.yaml")
//
// Supported environment overrides:
//
//	WARDEN_LISTEN_ADDRESS     server.listen_address
//	WARDEN_POLICY_PATH        policy.path
//	WARDEN_STORAGE_BACKEND    storage.backend
//	WARDEN_REDIS_ADDRESS      storage.redis.address
//	WARDEN_UPSTREAM_URL       upstream.base_url
//	WARDEN_UPSTREAM_API_KEY   upstream.api_key
//	WARDEN_LOG_LEVEL          telemetry.logging.level
//	WARDEN_RATE_FAILURE_MODE  limits.failure_mode
//
// Validation collects every problem into a ValidationError rather than
// stopping at the first.
//
// A process-wide instance is available through Initialize and Get. Tests
// should construct a Config directly.
package config
