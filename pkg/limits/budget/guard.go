package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/processing/costs"
	"mercator-hq/warden/pkg/processing/tokens"
	"mercator-hq/warden/pkg/proxy/types"
)

const guardName = "cost"

// Config configures a Guard.
type Config struct {
	// Estimator counts tokens. Default: tokens.NewSimpleEstimator
	Estimator tokens.Estimator

	// Calculator prices tokens. Default: an empty table (every model free)
	Calculator *costs.Calculator

	// FailureMode applies when a policy does not override it.
	// Default: open
	FailureMode policy.FailureMode

	// AlertThresholds are fractions of the daily cap. Default: 0.80, 0.95
	AlertThresholds []float64

	// Notifier receives alerts. Default: alerts are logged.
	Notifier Notifier

	// Observer records guard outcomes. Optional.
	Observer limits.Observer

	// Clock returns the current time. Default: time.Now
	Clock limits.Clock
}

// Estimate is a pre-flight token and cost estimate.
type Estimate struct {
	Tokens tokens.Estimate
	Cost   float64
}

// Reservation is a provisional hold on the ledger. It is settled exactly
// once, by Commit or Release.
type Reservation struct {
	// Policy and Subject identify the ledger the hold was placed on.
	Policy  string
	Subject string

	// Amount is the reserved estimate in USD.
	Amount float64

	// Degraded is set when the store was unavailable and the guard failed
	// open. Nothing was reserved.
	Degraded bool

	micros  int64
	entries []ledgerEntry
	settled atomic.Bool
}

// Settled reports whether the reservation has been committed or released.
func (r *Reservation) Settled() bool {
	return r == nil || r.settled.Load()
}

type ledgerEntry struct {
	key    string
	limit  Limit
	window limits.Window
	cap    int64 // micro-USD, 0 when the window is tracked but uncapped
	ttl    time.Duration
}

// Guard enforces cost caps through the shared store.
type Guard struct {
	store      storage.Store
	estimator  tokens.Estimator
	calculator *costs.Calculator
	mode       policy.FailureMode
	thresholds []float64
	notifier   Notifier
	observer   limits.Observer
	now        limits.Clock
	logger     *slog.Logger
}

// NewGuard creates a cost guard over store.
func NewGuard(store storage.Store, cfg Config) *Guard {
	if cfg.Estimator == nil {
		cfg.Estimator = tokens.NewSimpleEstimator(tokens.Config{})
	}
	if cfg.Calculator == nil {
		cfg.Calculator = costs.NewCalculator(nil)
	}
	if cfg.AlertThresholds == nil {
		cfg.AlertThresholds = DefaultAlertThresholds
	}
	thresholds := append([]float64(nil), cfg.AlertThresholds...)
	sort.Float64s(thresholds)

	logger := slog.Default().With("component", "limits.budget")
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(LogAlert(logger))
	}
	if cfg.Observer == nil {
		cfg.Observer = limits.NopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Guard{
		store:      store,
		estimator:  cfg.Estimator,
		calculator: cfg.Calculator,
		mode:       cfg.FailureMode,
		thresholds: thresholds,
		notifier:   cfg.Notifier,
		observer:   cfg.Observer,
		now:        cfg.Clock,
		logger:     logger,
	}
}

// Estimate computes the expected tokens and cost of sending req to model.
// It is deterministic for a given request and price table.
func (g *Guard) Estimate(req *types.ChatCompletionRequest, model string) Estimate {
	est := g.estimator.EstimateRequest(req, model)
	return Estimate{
		Tokens: est,
		Cost:   g.calculator.Cost(model, est.PromptTokens, est.CompletionTokens),
	}
}

// Cost prices reported usage.
func (g *Guard) Cost(model string, usage types.Usage) float64 {
	return g.calculator.Cost(model, usage.PromptTokens, usage.CompletionTokens)
}

// Reserve places a hold of cost USD on the policy's ledger for client.
//
// The per-request cap is checked first and touches no state. The minute
// and day windows are then incremented together; if either would pass its
// cap nothing is written and a *LimitExceededError names the window.
//
// A policy without cost limits, or a disabled one, gets an empty
// reservation that Commit and Release accept.
func (g *Guard) Reserve(ctx context.Context, p *policy.Policy, client string, cost float64) (*Reservation, error) {
	r := &Reservation{Amount: cost}
	if p == nil || !p.IsEnabled() || p.CostLimits == nil {
		return r, nil
	}
	cl := p.CostLimits

	r.Policy = p.Name
	r.Subject = limits.Subject(p.CostScope(), client)

	if cl.MaxPerRequest > 0 && cost > cl.MaxPerRequest {
		g.observer.GuardCheck(guardName, "rejected")
		g.observer.LimitHit(guardName, string(LimitRequest))
		return nil, &LimitExceededError{
			Limit:     LimitRequest,
			Cap:       cl.MaxPerRequest,
			Requested: cost,
		}
	}

	now := g.now()
	r.micros = toMicros(cost)
	r.entries = []ledgerEntry{
		g.entry(p.Name, r.Subject, LimitMinute, limits.Minute, cl.MaxPerMinute, now),
		g.entry(p.Name, r.Subject, LimitDay, limits.Day, cl.DailyCap, now),
	}

	if r.micros == 0 {
		g.observer.GuardCheck(guardName, "allowed")
		return r, nil
	}

	ops := make([]storage.Increment, len(r.entries))
	for i, e := range r.entries {
		limit := storage.Unlimited
		if e.cap > 0 {
			limit = e.cap
		}
		ops[i] = storage.Increment{Key: e.key, Delta: r.micros, Limit: limit, TTL: e.ttl}
	}

	_, err := g.store.IncrementAll(ctx, ops)
	if err == nil {
		g.observer.GuardCheck(guardName, "allowed")
		return r, nil
	}

	var lerr *storage.LimitExceededError
	if errors.As(err, &lerr) {
		e := r.entries[lerr.Index]
		g.observer.GuardCheck(guardName, "rejected")
		g.observer.LimitHit(guardName, string(e.limit))
		return nil, &LimitExceededError{
			Limit:     e.limit,
			Cap:       fromMicros(e.cap),
			Current:   fromMicros(lerr.Current),
			Requested: cost,
			Reset:     e.window.End,
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("reserve cost: %w", ctxErr)
	}

	mode := limits.ResolveFailureMode(cl.FailureMode, g.mode)
	g.observer.GuardCheck(guardName, "degraded")
	if mode == policy.FailClosed {
		g.logger.Error("Cost ledger unavailable, rejecting request",
			"policy", p.Name,
			"failure_mode", mode,
			"error", err,
		)
		return nil, storeError("reserve cost", err)
	}

	g.logger.Warn("Cost ledger unavailable, allowing request without reservation",
		"policy", p.Name,
		"failure_mode", mode,
		"error", err,
	)
	return &Reservation{Policy: p.Name, Subject: r.Subject, Amount: cost, Degraded: true}, nil
}

// Commit replaces the reserved estimate with the actual cost by applying
// the difference to the windows the reservation touched. It never re-adds
// the full amount. Committing a settled reservation is a no-op.
func (g *Guard) Commit(ctx context.Context, r *Reservation, actual float64) error {
	if r == nil || !r.settled.CompareAndSwap(false, true) {
		return nil
	}
	if len(r.entries) == 0 {
		return nil
	}

	delta := toMicros(actual) - r.micros
	ops := make([]storage.Increment, len(r.entries))
	for i, e := range r.entries {
		ops[i] = storage.Increment{Key: e.key, Delta: delta, Limit: storage.Unlimited, TTL: e.ttl}
	}

	values, err := g.store.IncrementAll(ctx, ops)
	if err != nil {
		g.logger.Warn("Failed to commit cost",
			"policy", r.Policy,
			"reserved", r.Amount,
			"actual", actual,
			"error", err,
		)
		return storeError("commit cost", err)
	}

	g.evaluateAlerts(ctx, r, values)
	return nil
}

// Release returns a reservation's hold to the ledger. It is idempotent and
// a no-op after Commit.
func (g *Guard) Release(ctx context.Context, r *Reservation) error {
	if r == nil || !r.settled.CompareAndSwap(false, true) {
		return nil
	}
	if len(r.entries) == 0 || r.micros == 0 {
		return nil
	}

	ops := make([]storage.Increment, len(r.entries))
	for i, e := range r.entries {
		ops[i] = storage.Increment{Key: e.key, Delta: -r.micros, Limit: storage.Unlimited}
	}

	if _, err := g.store.IncrementAll(ctx, ops); err != nil {
		g.logger.Warn("Failed to release cost reservation",
			"policy", r.Policy,
			"amount", r.Amount,
			"error", err,
		)
		return storeError("release cost", err)
	}
	return nil
}

// Spent returns the recorded spend for a policy subject in the window
// containing now.
func (g *Guard) Spent(ctx context.Context, policyName, subject string, window Limit) (float64, error) {
	gran := limits.Minute
	if window == LimitDay {
		gran = limits.Day
	}
	key := limits.Key("cost", policyName, subject, limits.WindowAt(g.now(), gran))
	micros, err := storage.Counter(ctx, g.store, key)
	if err != nil {
		return 0, storeError("read spend", err)
	}
	return fromMicros(micros), nil
}

func (g *Guard) entry(policyName, subject string, limit Limit, gran limits.Granularity, capUSD float64, now time.Time) ledgerEntry {
	w := limits.WindowAt(now, gran)
	return ledgerEntry{
		key:    limits.Key("cost", policyName, subject, w),
		limit:  limit,
		window: w,
		cap:    toMicros(capUSD),
		ttl:    w.KeyTTL(now),
	}
}

// evaluateAlerts fires each crossed threshold of the day cap once per
// window. The marker key is claimed atomically, so only one commit across
// all gateway replicas raises a given alert.
func (g *Guard) evaluateAlerts(ctx context.Context, r *Reservation, values []int64) {
	for i, e := range r.entries {
		if e.limit != LimitDay || e.cap <= 0 {
			continue
		}

		fraction := float64(values[i]) / float64(e.cap)
		g.observer.BudgetUsage(r.Policy, string(e.limit), fraction)

		for _, t := range g.thresholds {
			if fraction < t {
				break
			}
			marker := fmt.Sprintf("%s:alert:%d", e.key, int(math.Round(t*100)))
			_, err := g.store.IncrementAll(ctx, []storage.Increment{{Key: marker, Delta: 1, Limit: 1, TTL: e.ttl}})
			if err != nil {
				var lerr *storage.LimitExceededError
				if !errors.As(err, &lerr) {
					g.logger.Debug("Failed to claim budget alert", "key", marker, "error", err)
				}
				continue
			}
			g.notifier.Notify(Alert{
				Policy:    r.Policy,
				Subject:   r.Subject,
				Window:    e.limit,
				Threshold: t,
				Spent:     fromMicros(values[i]),
				Cap:       fromMicros(e.cap),
				At:        g.now(),
			})
		}
	}
}

func storeError(op string, err error) error {
	if errors.Is(err, limits.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, limits.ErrStoreUnavailable, err)
}

func toMicros(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

func fromMicros(m int64) float64 {
	return float64(m) / 1e6
}
