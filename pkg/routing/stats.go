package routing

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats counts routing decisions using atomic counters.
type Stats struct {
	total  atomic.Int64
	errors atomic.Int64

	// perModel tracks decisions per selected model.
	perModel sync.Map // map[string]*atomic.Int64

	// perRule tracks decisions per rule index; -1 is "no rule".
	perRule sync.Map // map[int]*atomic.Int64

	lastReset time.Time
	mu        sync.RWMutex
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	TotalDecisions int64            `json:"total_decisions"`
	PerModel       map[string]int64 `json:"per_model"`
	PerRule        map[int]int64    `json:"per_rule"`
	Errors         int64            `json:"errors"`
	Since          time.Time        `json:"since"`
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{lastReset: time.Now()}
}

func (s *Stats) record(model string, rule int) {
	s.total.Add(1)
	val, _ := s.perModel.LoadOrStore(model, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
	val, _ = s.perRule.LoadOrStore(rule, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

func (s *Stats) recordError() {
	s.errors.Add(1)
}

// Snapshot returns the current counts.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perModel := make(map[string]int64)
	s.perModel.Range(func(k, v interface{}) bool {
		perModel[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	perRule := make(map[int]int64)
	s.perRule.Range(func(k, v interface{}) bool {
		perRule[k.(int)] = v.(*atomic.Int64).Load()
		return true
	})

	return Snapshot{
		TotalDecisions: s.total.Load(),
		PerModel:       perModel,
		PerRule:        perRule,
		Errors:         s.errors.Load(),
		Since:          s.lastReset,
	}
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.total.Store(0)
	s.errors.Store(0)
	s.perModel.Range(func(k, _ interface{}) bool {
		s.perModel.Delete(k)
		return true
	})
	s.perRule.Range(func(k, _ interface{}) bool {
		s.perRule.Delete(k)
		return true
	})

	s.mu.Lock()
	s.lastReset = time.Now()
	s.mu.Unlock()
}
