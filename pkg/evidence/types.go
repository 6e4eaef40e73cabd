package evidence

import (
	"context"
	"io"
	"time"
)

// Outcomes.
const (
	OutcomeServed   = "served"
	OutcomeCached   = "cached"
	OutcomeBlocked  = "blocked"
	OutcomeCanceled = "canceled"
)

// MaxQueryLimit bounds one page of results.
const MaxQueryLimit = 10000

// DefaultQueryLimit applies when a query sets no limit.
const DefaultQueryLimit = 100

// Record is the audit trail of one governed request. It carries
// decisions and amounts only; prompt and completion text are never
// recorded.
type Record struct {
	// Identity
	ID        string `json:"id"`         // UUID v4
	RequestID string `json:"request_id"` // From the gateway

	// Timestamps
	RequestTime  time.Time `json:"request_time"`  // When the pipeline finished
	RecordedTime time.Time `json:"recorded_time"` // When the record was built

	// Who and what
	Policy         string `json:"policy"`
	Client         string `json:"client"`
	RequestedModel string `json:"requested_model"`
	Model          string `json:"model"`
	RouteRule      int    `json:"route_rule"` // -1 when no rule matched

	// Decision
	Outcome     string `json:"outcome"`
	BlockedKind string `json:"blocked_kind,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Degraded    bool   `json:"degraded"`
	CacheHit    bool   `json:"cache_hit"`

	// Money
	EstimatedCost float64 `json:"estimated_cost"`
	ActualCost    float64 `json:"actual_cost"`

	// PII
	PIIFindings int      `json:"pii_findings"`
	PIITypes    []string `json:"pii_types,omitempty"`

	// Timing
	Latency         time.Duration `json:"latency"`
	UpstreamLatency time.Duration `json:"upstream_latency"`

	// Digest is the SHA-256 of the record's other fields, for tamper
	// detection after export.
	Digest string `json:"digest"`
}

// Query filters evidence records. Zero fields match everything.
type Query struct {
	// Time range, inclusive.
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	Policy      string `json:"policy,omitempty"`
	Client      string `json:"client,omitempty"`
	Model       string `json:"model,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	BlockedKind string `json:"blocked_kind,omitempty"`

	MinCost *float64 `json:"min_cost,omitempty"`

	// Pagination. Limit defaults to DefaultQueryLimit for Query; Delete
	// and Count ignore it.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	// SortOrder is "asc" or "desc" by request time. Default: desc
	SortOrder string `json:"sort_order,omitempty"`
}

// Validate checks the query's ranges.
func (q *Query) Validate() error {
	switch {
	case q.Limit < 0:
		return newQueryError(q, "limit must not be negative")
	case q.Limit > MaxQueryLimit:
		return newQueryError(q, "limit exceeds maximum")
	case q.Offset < 0:
		return newQueryError(q, "offset must not be negative")
	case q.SortOrder != "" && q.SortOrder != "asc" && q.SortOrder != "desc":
		return newQueryError(q, `sort_order must be "asc" or "desc"`)
	case q.Since != nil && q.Until != nil && q.Since.After(*q.Until):
		return newQueryError(q, "since is after until")
	case q.MinCost != nil && *q.MinCost < 0:
		return newQueryError(q, "min_cost must not be negative")
	}
	switch q.Outcome {
	case "", OutcomeServed, OutcomeCached, OutcomeBlocked, OutcomeCanceled:
	default:
		return newQueryError(q, "unknown outcome "+q.Outcome)
	}
	return nil
}

// Matches reports whether r passes the query's filters. Pagination is not
// considered.
func (q *Query) Matches(r *Record) bool {
	switch {
	case q.Since != nil && r.RequestTime.Before(*q.Since):
		return false
	case q.Until != nil && r.RequestTime.After(*q.Until):
		return false
	case q.Policy != "" && r.Policy != q.Policy:
		return false
	case q.Client != "" && r.Client != q.Client:
		return false
	case q.Model != "" && r.Model != q.Model:
		return false
	case q.Outcome != "" && r.Outcome != q.Outcome:
		return false
	case q.BlockedKind != "" && r.BlockedKind != q.BlockedKind:
		return false
	case q.MinCost != nil && r.ActualCost < *q.MinCost:
		return false
	}
	return true
}

// Storage persists evidence records. Implementations are safe for
// concurrent use.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *Record) error

	// Query returns matching records, newest first unless the query asks
	// otherwise. No match returns an empty slice.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of matching records.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes matching records and returns how many went.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases the backend.
	Close() error
}

// Exporter writes records in a file format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error
}
