package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MemoryStore implements Store using an in-process map.
// Expired entries are dropped lazily on access and swept periodically by a
// cron-scheduled janitor, so memory is bounded by recently active keys.
//
// MemoryStore is thread-safe. A single mutex makes every IncrementAll batch
// atomic with respect to all other operations.
type MemoryStore struct {
	// entries maps key to its stored value.
	entries map[string]*memoryEntry

	// mu protects entries and closed.
	mu sync.Mutex

	// maxEntries is the maximum number of live entries before eviction.
	maxEntries int

	// now returns the current time. Tests replace it.
	now func() time.Time

	janitor *cron.Cron
	closed  bool
}

type memoryEntry struct {
	counter   int64
	value     []byte
	isCounter bool
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// MaxEntries is the maximum number of entries to keep.
	// The entry closest to expiry is evicted when this limit is reached.
	// Default: 100,000
	MaxEntries int

	// SweepSchedule is the cron spec for the expiry sweep.
	// Default: "@every 1m"
	SweepSchedule string

	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	s, err := NewMemoryStoreWithConfig(MemoryStoreConfig{})
	if err != nil {
		// The default schedule always parses.
		panic(err)
	}
	return s
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) (*MemoryStore, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: cfg.MaxEntries,
		now:        cfg.Clock,
		janitor:    cron.New(),
	}

	if _, err := s.janitor.AddFunc(cfg.SweepSchedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}
	s.janitor.Start()

	return s, nil
}

// IncrementAll implements Store.
func (s *MemoryStore) IncrementAll(ctx context.Context, ops []Increment) ([]int64, error) {
	if err := validateOps(ops); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	now := s.now()

	// First pass: check every cap before touching anything.
	for i, op := range ops {
		current := s.counterLocked(op.Key, now)
		if wouldExceed(op, current) {
			return nil, &LimitExceededError{Index: i, Key: op.Key, Current: current, Limit: op.Limit}
		}
	}

	results := make([]int64, len(ops))
	for i, op := range ops {
		entry, ok := s.liveLocked(op.Key, now)
		if !ok || !entry.isCounter {
			if op.Delta <= 0 {
				continue
			}
			s.ensureCapacityLocked(now)
			entry = &memoryEntry{isCounter: true}
			if op.TTL > 0 {
				entry.expiresAt = now.Add(op.TTL)
			}
			s.entries[op.Key] = entry
		}
		entry.counter = applyDelta(entry.counter, op.Delta)
		results[i] = entry.counter
	}

	return results, nil
}

// Get implements Store. Counters are returned in decimal form.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}

	entry, ok := s.liveLocked(key, s.now())
	if !ok {
		return nil, false, nil
	}
	if entry.isCounter {
		return []byte(strconv.FormatInt(entry.counter, 10)), true, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	now := s.now()
	if _, exists := s.entries[key]; !exists {
		s.ensureCapacityLocked(now)
	}

	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[key] = entry

	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the janitor. The store must not be used afterwards.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	<-s.janitor.Stop().Done()
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Size returns the number of stored entries, including expired ones not
// yet swept.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// liveLocked returns the entry for key, dropping it if expired.
func (s *MemoryStore) liveLocked(key string, now time.Time) (*memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) counterLocked(key string, now time.Time) int64 {
	entry, ok := s.liveLocked(key, now)
	if !ok || !entry.isCounter {
		return 0
	}
	return entry.counter
}

// ensureCapacityLocked makes room for one more entry.
// Caller must hold the lock.
func (s *MemoryStore) ensureCapacityLocked(now time.Time) {
	if len(s.entries) < s.maxEntries {
		return
	}
	if s.sweepLocked(now) > 0 {
		return
	}

	var (
		victim    string
		victimExp time.Time
		found     bool
	)
	for key, entry := range s.entries {
		exp := entry.expiresAt
		if exp.IsZero() {
			exp = now.Add(100 * 365 * 24 * time.Hour)
		}
		if !found || exp.Before(victimExp) {
			victim, victimExp, found = key, exp, true
		}
	}
	if found {
		delete(s.entries, victim)
		slog.Debug("Memory store evicted entry", "key", victim, "max_entries", s.maxEntries)
	}
}
