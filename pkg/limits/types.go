package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/policy"
)

// Granularity is a wall-clock aligned window size.
type Granularity string

const (
	Minute Granularity = "minute"
	Hour   Granularity = "hour"
	Day    Granularity = "day"
)

// Duration returns the length of the window.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	return 0
}

// Window is one wall-clock aligned interval.
type Window struct {
	Granularity Granularity
	Start       time.Time
	End         time.Time
}

// WindowAt returns the window of granularity g containing now. Windows are
// aligned to UTC boundaries.
func WindowAt(now time.Time, g Granularity) Window {
	d := g.Duration()
	start := now.UTC().Truncate(d)
	return Window{Granularity: g, Start: start, End: start.Add(d)}
}

// KeyTTL is how long a window's counter should live: until the window ends
// plus a grace period for late commits.
func (w Window) KeyTTL(now time.Time) time.Duration {
	ttl := w.End.Sub(now) + w.Granularity.Duration()
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Key builds a counter key: warden:{kind}:{policy}:{subject}:{granularity}:{start}.
func Key(kind, policyName, subject string, w Window) string {
	return fmt.Sprintf("warden:%s:%s:%s:%s:%d", kind, policyName, subject, w.Granularity, w.Start.Unix())
}

// Subject returns the counter subject for a scope: the client identity
// for per-client scope, or "global".
func Subject(scope policy.Scope, client string) string {
	if scope == policy.ScopeGlobal || client == "" {
		return "global"
	}
	return client
}

// ResolveFailureMode returns the policy override if set, else the
// configured default, else fail-open.
func ResolveFailureMode(override, configured policy.FailureMode) policy.FailureMode {
	if override != "" {
		return override
	}
	if configured != "" {
		return configured
	}
	return policy.FailOpen
}

var (
	// ErrRateLimitExceeded is wrapped by rate-limit rejections.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBudgetExceeded is wrapped by cost-limit rejections.
	ErrBudgetExceeded = errors.New("cost limit exceeded")

	// ErrStoreUnavailable is returned by fail-closed guards when the shared
	// store cannot be reached.
	ErrStoreUnavailable = storage.ErrUnavailable
)

// Clock returns the current time. Guards accept one so tests can control
// window boundaries.
type Clock func() time.Time
