package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"mercator-hq/warden/pkg/evidence"
)

// header lists the CSV columns in order.
var header = []string{
	"id", "request_id", "request_time", "recorded_time",
	"policy", "client", "requested_model", "model", "route_rule",
	"outcome", "blocked_kind", "reason", "degraded", "cache_hit",
	"estimated_cost", "actual_cost",
	"pii_findings", "pii_types",
	"latency_ms", "upstream_latency_ms",
	"digest",
}

// CSVExporter writes records as CSV, one row per record.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Export writes records as CSV. PII types are joined with ";".
func (e *CSVExporter) Export(ctx context.Context, records []*evidence.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	if e.IncludeHeader {
		if err := writer.Write(header); err != nil {
			return evidence.NewExportError("csv", len(records), err)
		}
	}
	for _, record := range records {
		if err := writer.Write(row(record)); err != nil {
			return evidence.NewExportError("csv", len(records), err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return evidence.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream writes records from ch until ch is closed, flushing every
// 100 rows.
func (e *CSVExporter) ExportStream(ctx context.Context, ch <-chan *evidence.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(header); err != nil {
			return evidence.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-ch:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", count, err)
				}
				return nil
			}
			if err := writer.Write(row(record)); err != nil {
				return evidence.NewExportError("csv", count, err)
			}
			count++
			if count%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return evidence.NewExportError("csv", count, err)
				}
			}
		}
	}
}

func row(r *evidence.Record) []string {
	return []string{
		r.ID,
		r.RequestID,
		r.RequestTime.UTC().Format(time.RFC3339Nano),
		r.RecordedTime.UTC().Format(time.RFC3339Nano),
		r.Policy,
		r.Client,
		r.RequestedModel,
		r.Model,
		strconv.Itoa(r.RouteRule),
		r.Outcome,
		r.BlockedKind,
		r.Reason,
		strconv.FormatBool(r.Degraded),
		strconv.FormatBool(r.CacheHit),
		strconv.FormatFloat(r.EstimatedCost, 'f', -1, 64),
		strconv.FormatFloat(r.ActualCost, 'f', -1, 64),
		strconv.Itoa(r.PIIFindings),
		strings.Join(r.PIITypes, ";"),
		strconv.FormatInt(r.Latency.Milliseconds(), 10),
		strconv.FormatInt(r.UpstreamLatency.Milliseconds(), 10),
		r.Digest,
	}
}
