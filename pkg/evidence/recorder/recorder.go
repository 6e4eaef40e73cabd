package recorder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/pipeline"
)

// Config contains configuration for the evidence recorder.
type Config struct {
	// BufferSize is the capacity of the write queue.
	// Default: 1000
	BufferSize int

	// WriteTimeout bounds one storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// Clock stamps RecordedTime. Default: time.Now
	Clock func() time.Time
}

// Recorder turns pipeline events into evidence records and writes them on
// a background goroutine. It implements pipeline.Sink.
type Recorder struct {
	storage evidence.Storage
	config  Config
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *evidence.Record
	done   chan struct{}

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// New starts a recorder over storage.
func New(storage evidence.Storage, config Config) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	r := &Recorder{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "evidence.recorder"),
		queue:   make(chan *evidence.Record, config.BufferSize),
		done:    make(chan struct{}),
	}
	go r.worker()

	r.logger.Info("Evidence recorder initialized",
		"buffer_size", config.BufferSize,
		"write_timeout", config.WriteTimeout,
	)
	return r
}

// Emit implements pipeline.Sink. It never blocks: when the queue is full
// or the recorder is closed the record is dropped and counted.
func (r *Recorder) Emit(ctx context.Context, e pipeline.Event) {
	record := r.build(e)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- record:
	default:
		if r.dropped.Add(1) == 1 || r.dropped.Load()%1000 == 0 {
			r.logger.WarnContext(ctx, "Evidence queue full, dropping record",
				"request_id", e.RequestID,
				"dropped_total", r.dropped.Load(),
				"capacity", r.config.BufferSize,
			)
		}
	}
}

// Recorded returns how many records were written.
func (r *Recorder) Recorded() int64 { return r.recorded.Load() }

// Dropped returns how many records were discarded because the queue was
// full or the recorder was closed.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Failed returns how many writes the storage rejected.
func (r *Recorder) Failed() int64 { return r.failed.Load() }

// Close stops accepting records and waits for queued ones to be written.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	r.logger.Info("Evidence recorder shut down",
		"recorded", r.recorded.Load(),
		"dropped", r.dropped.Load(),
		"failed", r.failed.Load(),
	)
	return nil
}

func (r *Recorder) worker() {
	defer close(r.done)
	for record := range r.queue {
		r.write(record)
	}
}

func (r *Recorder) write(record *evidence.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, record); err != nil {
		r.failed.Add(1)
		r.logger.Error("Failed to store evidence record",
			"record_id", record.ID,
			"request_id", record.RequestID,
			"error", err,
		)
		return
	}
	r.recorded.Add(1)

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("Slow evidence write",
			"record_id", record.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}

// build converts an event. Outcome precedence is canceled, blocked,
// cached, served.
func (r *Recorder) build(e pipeline.Event) *evidence.Record {
	record := &evidence.Record{
		ID:              uuid.NewString(),
		RequestID:       e.RequestID,
		RequestTime:     e.At.UTC(),
		RecordedTime:    r.config.Clock().UTC(),
		Policy:          e.Policy,
		Client:          e.Client,
		RequestedModel:  e.RequestedModel,
		Model:           e.Model,
		RouteRule:       e.RouteRule,
		BlockedKind:     string(e.BlockedKind),
		Reason:          e.Reason,
		Degraded:        e.Degraded,
		CacheHit:        e.CacheHit,
		EstimatedCost:   e.EstimatedCost,
		ActualCost:      e.ActualCost,
		PIIFindings:     e.PIIFindings,
		PIITypes:        slices.Clone(e.PIITypes),
		Latency:         e.Latency,
		UpstreamLatency: e.UpstreamLatency,
	}
	if e.At.IsZero() {
		record.RequestTime = record.RecordedTime
	}

	switch {
	case e.Canceled:
		record.Outcome = evidence.OutcomeCanceled
	case e.BlockedKind != "":
		record.Outcome = evidence.OutcomeBlocked
	case e.CacheHit:
		record.Outcome = evidence.OutcomeCached
	default:
		record.Outcome = evidence.OutcomeServed
	}

	// Durations are stored at millisecond precision; truncate first so the
	// digest survives a round trip.
	record.Latency = record.Latency.Truncate(time.Millisecond)
	record.UpstreamLatency = record.UpstreamLatency.Truncate(time.Millisecond)

	if d, err := Digest(record); err == nil {
		record.Digest = d
	}
	return record
}
