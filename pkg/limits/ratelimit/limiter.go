package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/policy"
)

const guardName = "ratelimit"

// Config configures a Limiter.
type Config struct {
	// FailureMode applies when a policy does not override it.
	// Default: open
	FailureMode policy.FailureMode

	// Observer records guard outcomes. Optional.
	Observer limits.Observer

	// Clock returns the current time. Default: time.Now
	Clock limits.Clock
}

// Result describes a rate limit decision. When several windows are
// configured, Limit, Remaining, and Reset describe the tightest one.
type Result struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Window is the granularity the other fields describe. Empty when the
	// policy has no rate limits.
	Window limits.Granularity

	// Limit is the configured quota for Window.
	Limit int64

	// Remaining is how many requests are left in Window.
	Remaining int64

	// Reset is when Window rolls over.
	Reset time.Time

	// RetryAfter suggests how long to wait before retrying. Zero when
	// allowed.
	RetryAfter time.Duration

	// Degraded is set when the store was unavailable.
	Degraded bool
}

// Limited reports whether any window applied to the request.
func (r Result) Limited() bool {
	return r.Window != ""
}

type window struct {
	gran  limits.Granularity
	limit int64
	w     limits.Window
}

// Limiter checks request quotas against the shared store. It holds no
// per-client state itself.
type Limiter struct {
	store    storage.Store
	mode     policy.FailureMode
	observer limits.Observer
	now      limits.Clock
	logger   *slog.Logger
}

// NewLimiter creates a limiter over store.
func NewLimiter(store storage.Store, cfg Config) *Limiter {
	if cfg.Observer == nil {
		cfg.Observer = limits.NopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Limiter{
		store:    store,
		mode:     cfg.FailureMode,
		observer: cfg.Observer,
		now:      cfg.Clock,
		logger:   slog.Default().With("component", "limits.ratelimit"),
	}
}

// Check counts one request for client against p's quotas.
//
// The request is counted in every configured window only if none of them
// is full. A rejection returns the Result together with an *ExceededError
// and leaves every counter unchanged.
func (l *Limiter) Check(ctx context.Context, p *policy.Policy, client string) (Result, error) {
	if p == nil || !p.IsEnabled() || p.RateLimits == nil {
		return Result{Allowed: true}, nil
	}

	now := l.now()
	windows := configuredWindows(p.RateLimits, now)
	if len(windows) == 0 {
		return Result{Allowed: true}, nil
	}

	subject := limits.Subject(p.RateScope(), client)
	ops := make([]storage.Increment, len(windows))
	for i, w := range windows {
		ops[i] = storage.Increment{
			Key:   limits.Key("rate", p.Name, subject, w.w),
			Delta: 1,
			Limit: w.limit,
			TTL:   w.w.KeyTTL(now),
		}
	}

	values, err := l.store.IncrementAll(ctx, ops)
	if err == nil {
		l.observer.GuardCheck(guardName, "allowed")
		return tightest(windows, values), nil
	}

	var lerr *storage.LimitExceededError
	if errors.As(err, &lerr) {
		w := windows[lerr.Index]
		l.observer.GuardCheck(guardName, "rejected")
		l.observer.LimitHit(guardName, string(w.gran))

		res := Result{
			Allowed:    false,
			Window:     w.gran,
			Limit:      w.limit,
			Remaining:  0,
			Reset:      w.w.End,
			RetryAfter: w.w.End.Sub(now),
		}
		return res, &ExceededError{Window: w.gran, Limit: w.limit, Reset: w.w.End}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", ctxErr)
	}

	mode := limits.ResolveFailureMode(p.RateLimits.FailureMode, l.mode)
	l.observer.GuardCheck(guardName, "degraded")

	if mode == policy.FailClosed {
		l.logger.Error("Rate limit store unavailable, rejecting request",
			"policy", p.Name,
			"failure_mode", mode,
			"error", err,
		)
		res := Result{Allowed: false, Degraded: true}
		if errors.Is(err, limits.ErrStoreUnavailable) {
			return res, fmt.Errorf("rate limit check: %w", err)
		}
		return res, fmt.Errorf("rate limit check: %w: %w", limits.ErrStoreUnavailable, err)
	}

	l.logger.Warn("Rate limit store unavailable, allowing request in degraded mode",
		"policy", p.Name,
		"failure_mode", mode,
		"error", err,
	)
	return Result{Allowed: true, Degraded: true}, nil
}

func configuredWindows(rl *policy.RateLimits, now time.Time) []window {
	candidates := []struct {
		gran  limits.Granularity
		limit int64
	}{
		{limits.Minute, rl.RequestsPerMinute},
		{limits.Hour, rl.RequestsPerHour},
		{limits.Day, rl.RequestsPerDay},
	}

	var out []window
	for _, c := range candidates {
		if c.limit > 0 {
			out = append(out, window{gran: c.gran, limit: c.limit, w: limits.WindowAt(now, c.gran)})
		}
	}
	return out
}

// tightest reports the window with the fewest remaining requests. Ties go
// to the shorter window.
func tightest(windows []window, values []int64) Result {
	best := 0
	bestRemaining := windows[0].limit - values[0]
	for i := 1; i < len(windows); i++ {
		if rem := windows[i].limit - values[i]; rem < bestRemaining {
			best, bestRemaining = i, rem
		}
	}
	if bestRemaining < 0 {
		bestRemaining = 0
	}

	w := windows[best]
	return Result{
		Allowed:   true,
		Window:    w.gran,
		Limit:     w.limit,
		Remaining: bestRemaining,
		Reset:     w.w.End,
	}
}
