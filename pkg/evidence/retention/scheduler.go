package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunResult describes the most recent scheduled prune.
type RunResult struct {
	At      time.Time
	Deleted int64
	Err     error
}

// Scheduler runs a Pruner on its PruneSchedule. A run that is still going
// when the next one fires is skipped rather than stacked.
type Scheduler struct {
	pruner *Pruner
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	done    chan struct{}
	last    RunResult
	hasLast bool
}

// NewScheduler creates a scheduler for pruner. Nothing runs until Start.
func NewScheduler(pruner *Pruner) *Scheduler {
	return &Scheduler{
		pruner: pruner,
		logger: slog.Default().With("component", "evidence.scheduler"),
	}
}

// Start registers the prune job and runs it until Stop or until ctx is
// cancelled. An empty schedule is not an error; nothing is scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := s.pruner.config.PruneSchedule
	if spec == "" {
		s.logger.Info("Prune schedule not configured, skipping scheduler")
		return nil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("retention scheduler already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.entry = c.Schedule(schedule, cron.FuncJob(func() { s.run(ctx) }))
	s.cron = c
	s.done = make(chan struct{})
	c.Start()

	s.logger.Info("Retention scheduler started",
		"schedule", spec,
		"retention_days", s.pruner.config.RetentionDays,
		"max_records", s.pruner.config.MaxRecords,
	)

	go func(done <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}(s.done)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	deleted, err := s.pruner.Prune(ctx)

	s.mu.Lock()
	s.last = RunResult{At: s.pruner.config.Clock(), Deleted: deleted, Err: err}
	s.hasLast = true
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled pruning failed", "error", err, "deleted_count", deleted)
		return
	}
	s.logger.Debug("Scheduled pruning completed", "deleted_count", deleted)
}

// Stop halts the schedule and waits for a running prune. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if c == nil {
		s.mu.Unlock()
		return
	}
	s.cron = nil
	close(s.done)
	s.mu.Unlock()

	// Wait outside the lock: a running job takes it to record its result.
	<-c.Stop().Done()
	s.logger.Info("Retention scheduler stopped")
}

// IsRunning reports whether a schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRun returns the next scheduled prune, or nil when nothing is
// scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	next := s.cron.Entry(s.entry).Next
	return &next
}

// LastRun returns the result of the most recent scheduled prune.
func (s *Scheduler) LastRun() (RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}
