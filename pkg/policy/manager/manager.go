package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/warden/pkg/policy"
)

// Config configures the policy manager.
type Config struct {
	// Path is a policy file or a directory of policy files. When empty only
	// the built-in default policy is available.
	Path string

	// DefaultPolicy names the policy used when a request names none or an
	// unknown one. Default: "default"
	DefaultPolicy string

	// DebounceInterval delays reloads after file changes.
	// Default: 100ms
	DebounceInterval time.Duration
}

// ReloadObserver is notified after every reload attempt.
type ReloadObserver interface {
	PolicyReload(success bool, policies int)
}

// Snapshot is an immutable view of the loaded policies.
type Snapshot struct {
	policies    map[string]*policy.Policy
	defaultName string

	// Version is a digest of the policy source content.
	Version string

	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time
}

// Get returns the named policy. An empty or unknown name resolves to the
// default policy, and a missing default resolves to the built-in policy.
func (s *Snapshot) Get(name string) *policy.Policy {
	if name != "" {
		if p, ok := s.policies[name]; ok {
			return p
		}
	}
	if p, ok := s.policies[s.defaultName]; ok {
		return p
	}
	return s.policies[policy.DefaultName]
}

// Lookup returns the named policy without fallback.
func (s *Snapshot) Lookup(name string) (*policy.Policy, bool) {
	p, ok := s.policies[name]
	return p, ok
}

// Names returns the loaded policy names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.policies))
	for n := range s.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of policies.
func (s *Snapshot) Len() int {
	return len(s.policies)
}

// Manager owns the active policy snapshot.
type Manager struct {
	config   Config
	loader   *Loader
	logger   *slog.Logger
	observer ReloadObserver

	current atomic.Pointer[Snapshot]

	// reloadMu serializes reloads; readers never take it.
	reloadMu      sync.Mutex
	lastLoadError error
}

// New creates a manager and performs the initial load. An invalid initial
// policy set is an error. observer may be nil.
func New(cfg Config, observer ReloadObserver) (*Manager, error) {
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = policy.DefaultName
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 100 * time.Millisecond
	}

	m := &Manager{
		config:   cfg,
		loader:   NewLoader(),
		logger:   slog.Default().With("component", "policy.manager"),
		observer: observer,
	}

	m.logger.Info("Loading policies", "path", cfg.Path, "default", cfg.DefaultPolicy)

	snap, err := m.build()
	if err != nil {
		m.notify(false, 0)
		return nil, err
	}
	m.current.Store(snap)
	m.notify(true, snap.Len())

	m.logger.Info("Policies loaded successfully",
		"count", snap.Len(),
		"version", snap.Version,
	)
	return m, nil
}

// Snapshot returns the active snapshot.
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// Get returns the named policy from the active snapshot.
func (m *Manager) Get(name string) *policy.Policy {
	return m.current.Load().Get(name)
}

// Reload rebuilds the snapshot from the configured path and swaps it in
// only if every policy validates. On failure the previous snapshot stays
// active.
func (m *Manager) Reload() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	startTime := time.Now()
	m.logger.Info("Reloading policies", "path", m.config.Path)

	snap, err := m.build()
	if err != nil {
		m.lastLoadError = err
		m.notify(false, 0)
		m.logger.Warn("Policy reload failed, keeping previous policies",
			"error", err,
			"version", m.current.Load().Version,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return err
	}

	prev := m.current.Swap(snap)
	m.lastLoadError = nil
	m.notify(true, snap.Len())

	m.logger.Info("Policies reloaded successfully",
		"count", snap.Len(),
		"version", snap.Version,
		"previous_version", prev.Version,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// LastLoadError returns the error from the most recent failed reload, or
// nil if the last reload succeeded.
func (m *Manager) LastLoadError() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.lastLoadError
}

// Watch reloads policies whenever the policy path changes. It blocks until
// ctx is cancelled. Without a configured path it returns immediately.
func (m *Manager) Watch(ctx context.Context) error {
	if m.config.Path == "" {
		return nil
	}

	src, err := newSource(m.config.Path, m.loader)
	if err != nil {
		return fmt.Errorf("failed to watch policies: %w", err)
	}
	return watch(ctx, src, m.config.DebounceInterval, m.Reload, m.logger)
}

func (m *Manager) build() (*Snapshot, error) {
	snap := &Snapshot{
		policies:    map[string]*policy.Policy{},
		defaultName: m.config.DefaultPolicy,
		Version:     "builtin",
		LoadedAt:    time.Now(),
	}

	if m.config.Path != "" {
		policies, version, err := m.loader.Load(m.config.Path)
		if err != nil {
			return nil, err
		}
		for _, p := range policies {
			snap.policies[p.Name] = p
		}
		snap.Version = version
	}

	if _, ok := snap.policies[policy.DefaultName]; !ok {
		snap.policies[policy.DefaultName] = policy.Default()
	}
	if _, ok := snap.policies[snap.defaultName]; !ok {
		return nil, fmt.Errorf("default policy %q is not defined", snap.defaultName)
	}

	return snap, nil
}

func (m *Manager) notify(success bool, count int) {
	if m.observer != nil {
		m.observer.PolicyReload(success, count)
	}
}
