package budget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/processing/costs"
	"mercator-hq/warden/pkg/proxy/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGuard(t *testing.T, cfg Config) (*Guard, *storage.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC)}
	store, err := storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{Clock: clock.Now})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg.Clock = clock.Now
	return NewGuard(store, cfg), store, clock
}

func costPolicy(perRequest, perMinute, daily float64) *policy.Policy {
	return &policy.Policy{
		Name: "test",
		CostLimits: &policy.CostLimits{
			MaxPerRequest: perRequest,
			MaxPerMinute:  perMinute,
			DailyCap:      daily,
		},
	}
}

// unavailableStore fails every operation.
type unavailableStore struct{}

func (unavailableStore) IncrementAll(context.Context, []storage.Increment) ([]int64, error) {
	return nil, storage.ErrUnavailable
}
func (unavailableStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, storage.ErrUnavailable
}
func (unavailableStore) Set(context.Context, string, []byte, time.Duration) error {
	return storage.ErrUnavailable
}
func (unavailableStore) Delete(context.Context, ...string) error { return storage.ErrUnavailable }
func (unavailableStore) Ping(context.Context) error              { return storage.ErrUnavailable }
func (unavailableStore) Close() error                            { return nil }

func TestEstimate(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{
		Calculator: costs.NewCalculator(map[string]costs.ModelPrice{
			"gpt-4o": {InputPer1K: 0.005, OutputPer1K: 0.015},
		}),
	})

	maxTokens := 1000
	req := &types.ChatCompletionRequest{
		Model:     "gpt-4o",
		MaxTokens: &maxTokens,
		Messages:  []types.Message{{Role: "user", Content: "abcdefgh"}},
	}

	est := g.Estimate(req, "gpt-4o")
	// 4 overhead + 1 ("user") + 2 ("abcdefgh") = 7 prompt tokens.
	if est.Tokens.PromptTokens != 7 {
		t.Errorf("Expected 7 prompt tokens, got %d", est.Tokens.PromptTokens)
	}
	want := 7.0/1000*0.005 + 1000.0/1000*0.015
	if diff := est.Cost - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Expected cost %.6f, got %.6f", want, est.Cost)
	}

	if again := g.Estimate(req, "gpt-4o"); again != est {
		t.Error("Estimate must be deterministic")
	}
}

func TestReserve_PerRequestCap(t *testing.T) {
	g, store, _ := newTestGuard(t, Config{})
	p := costPolicy(0.03, 1, 100)

	_, err := g.Reserve(context.Background(), p, "client", 0.05)

	var lerr *LimitExceededError
	if !errors.As(err, &lerr) {
		t.Fatalf("Expected *LimitExceededError, got %v", err)
	}
	if lerr.Limit != LimitRequest {
		t.Errorf("Expected request limit, got %s", lerr.Limit)
	}
	if !errors.Is(err, limits.ErrBudgetExceeded) {
		t.Error("Expected error to wrap ErrBudgetExceeded")
	}
	if store.Size() != 0 {
		t.Errorf("Per-request rejection must not touch the ledger, found %d keys", store.Size())
	}
}

func TestReserve_MinuteCap(t *testing.T) {
	g, _, clock := newTestGuard(t, Config{})
	p := costPolicy(0, 0.10, 100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := g.Reserve(ctx, p, "client", 0.03)
		if err != nil {
			t.Fatalf("Reservation %d failed: %v", i, err)
		}
		if err := g.Commit(ctx, r, 0.03); err != nil {
			t.Fatalf("Commit %d failed: %v", i, err)
		}
	}

	_, err := g.Reserve(ctx, p, "client", 0.03)
	var lerr *LimitExceededError
	if !errors.As(err, &lerr) {
		t.Fatalf("Expected minute cap rejection, got %v", err)
	}
	if lerr.Limit != LimitMinute {
		t.Errorf("Expected minute limit, got %s", lerr.Limit)
	}
	if lerr.Current < 0.0899 || lerr.Current > 0.0901 {
		t.Errorf("Expected current 0.09, got %v", lerr.Current)
	}
	if lerr.Reset.IsZero() {
		t.Error("Expected reset time for window rejection")
	}

	// Another client has its own ledger.
	if _, err := g.Reserve(ctx, p, "other", 0.03); err != nil {
		t.Errorf("Expected other client to be unaffected, got %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := g.Reserve(ctx, p, "client", 0.03); err != nil {
		t.Errorf("Expected reservation after minute rollover, got %v", err)
	}
}

func TestReserve_DayCapRejectsWithoutMutation(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{})
	p := costPolicy(0, 10, 0.05)
	ctx := context.Background()

	if _, err := g.Reserve(ctx, p, "c", 0.04); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	_, err := g.Reserve(ctx, p, "c", 0.02)
	var lerr *LimitExceededError
	if !errors.As(err, &lerr) || lerr.Limit != LimitDay {
		t.Fatalf("Expected day cap rejection, got %v", err)
	}

	// The rejected reservation left the minute window untouched.
	spent, err := g.Spent(ctx, "test", "c", LimitMinute)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0.04 {
		t.Errorf("Expected minute spend 0.04, got %v", spent)
	}
}

func TestReserve_GlobalScope(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{})
	p := costPolicy(0, 0.05, 0)
	p.CostLimits.Scope = policy.ScopeGlobal
	ctx := context.Background()

	if _, err := g.Reserve(ctx, p, "a", 0.03); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Reserve(ctx, p, "b", 0.03); err == nil {
		t.Error("Expected global scope to share the minute cap across clients")
	}
}

func TestReserve_NoLimits(t *testing.T) {
	g, store, _ := newTestGuard(t, Config{})
	ctx := context.Background()

	disabled := false
	for _, p := range []*policy.Policy{
		{Name: "none"},
		{Name: "off", Enabled: &disabled, CostLimits: &policy.CostLimits{MaxPerRequest: 0.001}},
	} {
		r, err := g.Reserve(ctx, p, "c", 5)
		if err != nil {
			t.Fatalf("%s: expected no enforcement, got %v", p.Name, err)
		}
		if err := g.Commit(ctx, r, 5); err != nil {
			t.Fatal(err)
		}
	}
	if store.Size() != 0 {
		t.Errorf("Expected no ledger keys, found %d", store.Size())
	}
}

func TestCommit_AppliesDelta(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{})
	p := costPolicy(0, 10, 100)
	ctx := context.Background()

	r, err := g.Reserve(ctx, p, "c", 0.05)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Commit(ctx, r, 0.02); err != nil {
		t.Fatal(err)
	}
	// Committing twice must not apply the delta again.
	if err := g.Commit(ctx, r, 0.02); err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx, r); err != nil {
		t.Fatal(err)
	}

	for _, w := range []Limit{LimitMinute, LimitDay} {
		spent, err := g.Spent(ctx, "test", "c", w)
		if err != nil {
			t.Fatal(err)
		}
		if spent != 0.02 {
			t.Errorf("%s: expected committed 0.02, got %v", w, spent)
		}
	}
}

func TestCommit_UsesReservationWindow(t *testing.T) {
	g, _, clock := newTestGuard(t, Config{})
	p := costPolicy(0, 10, 100)
	ctx := context.Background()

	r, err := g.Reserve(ctx, p, "c", 0.01)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if err := g.Commit(ctx, r, 0.03); err != nil {
		t.Fatal(err)
	}

	spent, _ := g.Spent(ctx, "test", "c", LimitMinute)
	if spent != 0 {
		t.Errorf("Commit must adjust the reserved window, new window has %v", spent)
	}
	clock.Advance(-time.Minute)
	spent, _ = g.Spent(ctx, "test", "c", LimitMinute)
	if spent != 0.03 {
		t.Errorf("Expected 0.03 in the reserved window, got %v", spent)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{})
	p := costPolicy(0, 10, 100)
	ctx := context.Background()

	keep, _ := g.Reserve(ctx, p, "c", 0.04)
	r, err := g.Reserve(ctx, p, "c", 0.03)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := g.Release(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if !r.Settled() {
		t.Error("Expected released reservation to be settled")
	}

	spent, _ := g.Spent(ctx, "test", "c", LimitDay)
	if spent != keep.Amount {
		t.Errorf("Expected only the kept reservation (%v), got %v", keep.Amount, spent)
	}

	// Commit after release is ignored.
	if err := g.Commit(ctx, r, 1); err != nil {
		t.Fatal(err)
	}
	if again, _ := g.Spent(ctx, "test", "c", LimitDay); again != spent {
		t.Errorf("Commit after release changed the ledger: %v", again)
	}
}

func TestReserve_ConcurrentNeverExceedsCap(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{})
	p := costPolicy(0, 1.00, 0)
	ctx := context.Background()

	const workers = 100
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Reserve(ctx, p, "c", 0.03)
			if err != nil {
				return
			}
			accepted.Add(1)
			if err := g.Commit(ctx, r, 0.03); err != nil {
				t.Errorf("Commit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 33 {
		t.Errorf("Expected exactly 33 reservations of 0.03 under a 1.00 cap, got %d", got)
	}
	spent, _ := g.Spent(ctx, "test", "c", LimitMinute)
	if spent > 1.00 {
		t.Errorf("Committed spend %v exceeds cap", spent)
	}
}

func TestFailureModes(t *testing.T) {
	ctx := context.Background()

	t.Run("open", func(t *testing.T) {
		g := NewGuard(unavailableStore{}, Config{})
		r, err := g.Reserve(ctx, costPolicy(0, 1, 1), "c", 0.01)
		if err != nil {
			t.Fatalf("Expected fail-open, got %v", err)
		}
		if !r.Degraded {
			t.Error("Expected degraded reservation")
		}
		if err := g.Commit(ctx, r, 0.01); err != nil {
			t.Errorf("Commit on degraded reservation should be a no-op, got %v", err)
		}
	})

	t.Run("closed by config", func(t *testing.T) {
		g := NewGuard(unavailableStore{}, Config{FailureMode: policy.FailClosed})
		_, err := g.Reserve(ctx, costPolicy(0, 1, 1), "c", 0.01)
		if !errors.Is(err, limits.ErrStoreUnavailable) {
			t.Errorf("Expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("closed by policy", func(t *testing.T) {
		g := NewGuard(unavailableStore{}, Config{FailureMode: policy.FailOpen})
		p := costPolicy(0, 1, 1)
		p.CostLimits.FailureMode = policy.FailClosed
		if _, err := g.Reserve(ctx, p, "c", 0.01); !errors.Is(err, limits.ErrStoreUnavailable) {
			t.Errorf("Expected policy override to fail closed, got %v", err)
		}
	})
}

func TestAlerts_FireOncePerThreshold(t *testing.T) {
	var (
		mu     sync.Mutex
		alerts []Alert
	)
	g, _, _ := newTestGuard(t, Config{
		Notifier: NotifierFunc(func(a Alert) {
			mu.Lock()
			alerts = append(alerts, a)
			mu.Unlock()
		}),
	})
	p := costPolicy(0, 0, 1.00)
	ctx := context.Background()

	spend := func(amount float64) {
		r, err := g.Reserve(ctx, p, "c", amount)
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if err := g.Commit(ctx, r, amount); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	spend(0.50) // 50%
	spend(0.31) // 81%
	spend(0.05) // 86%
	spend(0.10) // 96%
	spend(0.01) // 97%

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].Threshold != 0.80 || alerts[1].Threshold != 0.95 {
		t.Errorf("Unexpected thresholds: %v, %v", alerts[0].Threshold, alerts[1].Threshold)
	}
	if alerts[0].Window != LimitDay || alerts[0].Cap != 1.00 {
		t.Errorf("Unexpected alert: %+v", alerts[0])
	}
}

func TestQueueNotifier_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	var delivered atomic.Int64
	q := NewQueueNotifier(1, func(Alert) {
		<-block
		delivered.Add(1)
	})

	for i := 0; i < 5; i++ {
		q.Notify(Alert{})
	}
	close(block)
	q.Close()

	if q.Dropped() == 0 {
		t.Error("Expected dropped alerts when the queue is full")
	}
	if delivered.Load()+q.Dropped() != 5 {
		t.Errorf("Expected delivered+dropped = 5, got %d+%d", delivered.Load(), q.Dropped())
	}
}

// countingStore counts mutations on the wrapped store.
type countingStore struct {
	storage.Store
	increments atomic.Int64
}

func (s *countingStore) IncrementAll(ctx context.Context, ops []storage.Increment) ([]int64, error) {
	s.increments.Add(1)
	return s.Store.IncrementAll(ctx, ops)
}

func TestSpent_DoesNotMutate(t *testing.T) {
	_, mem, clock := newTestGuard(t, Config{})
	store := &countingStore{Store: mem}
	g := NewGuard(store, Config{Clock: clock.Now})
	ctx := context.Background()

	if spent, err := g.Spent(ctx, "test", "c", LimitDay); err != nil || spent != 0 {
		t.Fatalf("Expected zero spend on empty ledger, got %v (%v)", spent, err)
	}

	if _, err := g.Reserve(ctx, costPolicy(0, 0, 1), "c", 0.25); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	before := store.increments.Load()

	spent, err := g.Spent(ctx, "test", "c", LimitDay)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0.25 {
		t.Errorf("Expected day spend 0.25, got %v", spent)
	}
	if got := store.increments.Load(); got != before {
		t.Errorf("Spent issued %d increments", got-before)
	}
}

func TestSpent_StoreUnavailable(t *testing.T) {
	g := NewGuard(unavailableStore{}, Config{})
	if _, err := g.Spent(context.Background(), "test", "c", LimitMinute); !errors.Is(err, limits.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
}
