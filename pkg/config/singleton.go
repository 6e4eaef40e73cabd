package config

import (
	"fmt"
	"sync"
)

var (
	global   *Config
	globalMu sync.RWMutex
	initOnce sync.Once
	initErr  error
)

// Initialize loads the process-wide configuration once. Later calls
// return the first result.
func Initialize(path string) error {
	initOnce.Do(func() {
		cfg, err := LoadWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		Set(cfg)
	})
	return initErr
}

// Get returns the process-wide configuration, or nil before Initialize.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// MustGet is Get that panics when no configuration is loaded.
func MustGet() *Config {
	cfg := Get()
	if cfg == nil {
		panic("config: not initialized")
	}
	return cfg
}

// Set replaces the process-wide configuration.
func Set(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cfg
}

// Reload re-reads path and swaps the process-wide configuration. The old
// configuration stays in place when the new one is invalid.
func Reload(path string) error {
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	Set(cfg)
	return nil
}
