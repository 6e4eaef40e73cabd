package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status values.
const (
	StatusOK        = "ok"
	StatusHealthy   = "healthy"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrCheckTimeout is reported when a check outlives its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string  `json:"status"`
	Message  string  `json:"message,omitempty"`
	Critical bool    `json:"critical"`
	Duration float64 `json:"duration_ms"`
}

// HealthStatus is the aggregate probe response.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether traffic should be routed here.
func (s HealthStatus) Ready() bool {
	return s.Status != StatusUnhealthy
}

type registered struct {
	check    CheckFunc
	critical bool
}

// Checker runs registered checks. It is safe for concurrent use.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]registered
	checkTimeout time.Duration
	version      string
	now          func() time.Time
}

// New creates a checker. A zero timeout defaults to 5s per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registered),
		checkTimeout: checkTimeout,
		now:          time.Now,
	}
}

// RegisterCheck adds or replaces a critical check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.register(name, check, true)
}

// RegisterOptionalCheck adds or replaces a check whose failure only
// degrades readiness.
func (c *Checker) RegisterOptionalCheck(name string, check CheckFunc) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{check: check, critical: critical}
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// CheckCount returns the number of registered checks.
func (c *Checker) CheckCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.checks)
}

// SetVersion sets the build version reported by the liveness probe.
func (c *Checker) SetVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
}

// CheckLiveness reports that the process is serving.
func (c *Checker) CheckLiveness(context.Context) HealthStatus {
	c.mu.RLock()
	version := c.version
	c.mu.RUnlock()
	return HealthStatus{Status: StatusHealthy, Version: version, Timestamp: c.now().UTC()}
}

// CheckReadiness runs every check concurrently.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, r := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runCheck(ctx, r)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{Status: status, Checks: results, Timestamp: c.now().UTC()}
}

func (c *Checker) runCheck(ctx context.Context, r registered) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- r.check(checkCtx) }()

	var err error
	select {
	case err = <-errc:
	case <-checkCtx.Done():
		err = ErrCheckTimeout
	}

	result := CheckResult{
		Status:   StatusOK,
		Critical: r.critical,
		Duration: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}
