// Package evidence keeps an audit trail of governance decisions.
//
// Every request the pipeline finishes produces one Record: which policy
// applied, which client sent it, the requested and routed model, whether
// it was served, answered from cache, blocked (and why), the estimated
// and committed cost, and which PII entity types were found. Prompt and
// completion text never reach the audit trail.
//
// # Layers
//
//  1. recorder: a pipeline.Sink that turns events into records and writes
//     them on a background goroutine through a bounded queue
//  2. storage: SQLite (WAL mode) for production, memory for tests and
//     dry runs
//  3. retention: age and count based pruning on a cron schedule, with
//     optional JSON archives
//  4. export: JSON and CSV writers used by the CLI
//
// # Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{Path: "data/evidence.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec := recorder.New(store, recorder.Config{BufferSize: 1000})
//	defer rec.Close()
//
//	p, err := pipeline.New(pipeline.Config{Sink: rec, ...})
//
// Recording never blocks a request. When the queue is full the record is
// dropped and counted; see Recorder.Dropped.
package evidence
