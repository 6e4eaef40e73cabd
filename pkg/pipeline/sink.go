package pipeline

import (
	"context"
	"time"
)

// Event describes one processed request. Raw PII values are never
// included.
type Event struct {
	RequestID      string
	Policy         string
	Client         string
	RequestedModel string
	Model          string
	RouteRule      int
	EstimatedCost  float64
	ActualCost     float64
	CacheHit       bool
	PIIFindings    int
	PIITypes       []string

	// BlockedKind is empty for requests that were served.
	BlockedKind Kind
	Reason      string

	// Degraded is set when a guard failed open.
	Degraded bool

	// CacheChecked is set when the cache was consulted; a checked request
	// that is not a CacheHit was a miss.
	CacheChecked bool

	// Canceled is set when the caller went away before completion.
	Canceled bool

	Latency         time.Duration
	UpstreamLatency time.Duration
	At              time.Time
}

// Sink receives one Event per request. Emit must not block on slow
// downstream work.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
