// Package retention prunes evidence records by age and by count.
//
// A Pruner deletes records older than RetentionDays, then the oldest
// records beyond MaxRecords. When ArchivePath is set each batch is written
// there as JSON before it is deleted. The Scheduler runs Prune on a
// standard cron expression:
//
//	pruner := retention.NewPruner(store, retention.Config{
//	    RetentionDays: 90,
//	    PruneSchedule: "0 3 * * *",
//	})
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
//
// An empty PruneSchedule leaves pruning to explicit Prune calls.
package retention
