package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/evidence/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep evidence. Zero or
	// negative keeps evidence forever.
	RetentionDays int

	// PruneSchedule is a standard five-field cron expression, e.g.
	// "0 3 * * *" for daily at 03:00. Empty disables scheduling.
	PruneSchedule string

	// MaxRecords caps the table; the oldest rows go first. Zero is
	// unlimited.
	MaxRecords int64

	// ArchivePath, when set, receives a JSON export of every batch before
	// it is deleted.
	ArchivePath string

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// Pruner enforces retention on an evidence store.
type Pruner struct {
	storage   evidence.Storage
	config    Config
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a pruner.
func NewPruner(storage evidence.Storage, config Config) *Pruner {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	p := &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "evidence.retention"),
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune deletes records older than the retention period, then the oldest
// records beyond MaxRecords. It returns the total deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, evidence.NewRetentionError("age", p.config.RetentionDays, p.config.MaxRecords, err)
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, evidence.NewRetentionError("count", p.config.RetentionDays, p.config.MaxRecords, err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("Evidence pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.config.Clock().AddDate(0, 0, -p.config.RetentionDays)
	query := &evidence.Query{Until: &cutoff}

	if p.config.ArchivePath != "" {
		if err := p.archive(ctx, query, "age"); err != nil {
			return 0, err
		}
	}
	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete by age: %w", err)
	}
	return deleted, nil
}

// pruneByCount deletes everything at or before the request time of the
// last record that has to go. Records sharing that timestamp go too.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &evidence.Query{})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	excess := count - p.config.MaxRecords
	if excess <= 0 {
		return 0, nil
	}
	excess = min(excess, evidence.MaxQueryLimit)

	oldest, err := p.storage.Query(ctx, &evidence.Query{SortOrder: "asc", Limit: int(excess)})
	if err != nil {
		return 0, fmt.Errorf("query oldest records: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	cutoff := oldest[len(oldest)-1].RequestTime
	query := &evidence.Query{Until: &cutoff}
	if p.config.ArchivePath != "" {
		if err := p.archive(ctx, query, "count"); err != nil {
			return 0, err
		}
	}

	p.logger.Info("Record count exceeds limit, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
	)
	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete by count: %w", err)
	}
	return deleted, nil
}

// archive exports the records matching query as one JSON file.
func (p *Pruner) archive(ctx context.Context, query *evidence.Query, reason string) error {
	q := *query
	q.SortOrder = "asc"
	q.Limit = evidence.MaxQueryLimit
	var records []*evidence.Record
	for {
		page, err := p.storage.Query(ctx, &q)
		if err != nil {
			return fmt.Errorf("query records for archiving: %w", err)
		}
		records = append(records, page...)
		if len(page) < q.Limit {
			break
		}
		q.Offset += len(page)
	}
	if len(records) == 0 {
		return nil
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	name := fmt.Sprintf("evidence-%s-%s.json", reason, p.config.Clock().UTC().Format("2006-01-02-150405"))
	path := filepath.Join(p.config.ArchivePath, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	if err := export.NewJSONExporter(true).Export(ctx, records, f); err != nil {
		return err
	}
	p.logger.Info("Evidence archived",
		"archive_file", path,
		"record_count", len(records),
	)
	return nil
}

// Start schedules pruning. See Scheduler.Start.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the schedule and waits for a running prune.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the next scheduled run, or nil.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
