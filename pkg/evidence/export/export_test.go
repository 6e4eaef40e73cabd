package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/evidence"
	"mercator-hq/warden/pkg/evidence/recorder"
)

func testRecord(t testing.TB, id string) *evidence.Record {
	t.Helper()
	r := &evidence.Record{
		ID:             id,
		RequestID:      "req-" + id,
		RequestTime:    time.Date(2026, 3, 10, 12, 0, 0, 123456789, time.UTC),
		RecordedTime:   time.Date(2026, 3, 10, 12, 0, 1, 0, time.UTC),
		Policy:         "default",
		Client:         "team-a",
		RequestedModel: "gpt-4o",
		Model:          "gpt-4o-mini",
		RouteRule:      0,
		Outcome:        evidence.OutcomeBlocked,
		BlockedKind:    "pii_blocked",
		Reason:         `found "email", then a comma, newline` + "\n",
		EstimatedCost:  0.0125,
		PIIFindings:    2,
		PIITypes:       []string{"email", "ssn"},
		Latency:        42 * time.Millisecond,
	}
	digest, err := recorder.Digest(r)
	if err != nil {
		t.Fatal(err)
	}
	r.Digest = digest
	return r
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONExporter_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONExporter(false).Export(context.Background(), nil, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if buf.String() != "[]" {
		t.Errorf("Export() = %q, want %q", buf.String(), "[]")
	}
}

func TestJSONExporter_RoundTripKeepsDigest(t *testing.T) {
	for _, pretty := range []bool{false, true} {
		records := []*evidence.Record{testRecord(t, "a"), testRecord(t, "b")}
		var buf bytes.Buffer
		if err := NewJSONExporter(pretty).Export(context.Background(), records, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if pretty != strings.Contains(buf.String(), "\n  ") {
			t.Errorf("pretty=%v: unexpected indentation", pretty)
		}

		var decoded []*evidence.Record
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode JSON: %v", err)
		}
		if len(decoded) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(decoded))
		}
		for _, r := range decoded {
			if !recorder.Verify(r) {
				t.Errorf("Record %s failed digest verification after export", r.ID)
			}
		}
	}
}

func TestJSONExporter_Stream(t *testing.T) {
	ch := make(chan *evidence.Record, 3)
	for _, id := range []string{"a", "b", "c"} {
		ch <- testRecord(t, id)
	}
	close(ch)

	var buf bytes.Buffer
	if err := NewJSONExporter(false).ExportStream(context.Background(), ch, &buf); err != nil {
		t.Fatalf("ExportStream() error = %v", err)
	}
	var decoded []*evidence.Record
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Stream output is not a JSON array: %v\n%s", err, buf.String())
	}
	if len(decoded) != 3 || decoded[2].ID != "c" {
		t.Errorf("Unexpected stream output %+v", decoded)
	}

	empty := make(chan *evidence.Record)
	close(empty)
	buf.Reset()
	if err := NewJSONExporter(false).ExportStream(context.Background(), empty, &buf); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 0 {
		t.Errorf("Expected empty array, got %q", buf.String())
	}
}

func TestJSONExporter_StreamCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewJSONExporter(false).ExportStream(ctx, make(chan *evidence.Record), &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCSVExporter_Export(t *testing.T) {
	tests := []struct {
		name   string
		header bool
		rows   int
	}{
		{"with header", true, 3},
		{"without header", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []*evidence.Record{testRecord(t, "a"), testRecord(t, "b")}
			var buf bytes.Buffer
			if err := NewCSVExporter(tt.header).Export(context.Background(), records, &buf); err != nil {
				t.Fatalf("Export() error = %v", err)
			}

			rows, err := csv.NewReader(&buf).ReadAll()
			if err != nil {
				t.Fatalf("Output is not valid CSV: %v", err)
			}
			if len(rows) != tt.rows {
				t.Fatalf("Expected %d rows, got %d", tt.rows, len(rows))
			}
			if tt.header && rows[0][0] != "id" {
				t.Errorf("Unexpected header %v", rows[0])
			}

			last := rows[len(rows)-1]
			if len(last) != len(header) {
				t.Fatalf("Expected %d columns, got %d", len(header), len(last))
			}
			want := map[int]string{
				0:  "b",
				2:  "2026-03-10T12:00:00.123456789Z",
				8:  "0",
				11: `found "email", then a comma, newline` + "\n",
				14: "0.0125",
				15: "0",
				17: "email;ssn",
				18: "42",
			}
			for col, v := range want {
				if last[col] != v {
					t.Errorf("Column %s = %q, want %q", header[col], last[col], v)
				}
			}
		})
	}
}

func TestCSVExporter_Stream(t *testing.T) {
	ch := make(chan *evidence.Record, 250)
	for i := 0; i < 250; i++ {
		ch <- testRecord(t, "r")
	}
	close(ch)

	var buf bytes.Buffer
	if err := NewCSVExporter(true).ExportStream(context.Background(), ch, &buf); err != nil {
		t.Fatalf("ExportStream() error = %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 251 {
		t.Errorf("Expected 251 rows, got %d", len(rows))
	}
}

func TestExporters_WriterError(t *testing.T) {
	records := []*evidence.Record{testRecord(t, "a")}
	exporters := map[string]evidence.Exporter{
		"json": NewJSONExporter(false),
		"csv":  NewCSVExporter(true),
	}
	for name, e := range exporters {
		err := e.Export(context.Background(), records, failingWriter{})
		var exportErr *evidence.ExportError
		if !errors.As(err, &exportErr) {
			t.Errorf("%s: expected *evidence.ExportError, got %v", name, err)
		}
	}
}

func BenchmarkCSVExport_1000Records(b *testing.B) {
	records := make([]*evidence.Record, 1000)
	for i := range records {
		records[i] = testRecord(b, "bench")
	}
	exporter := NewCSVExporter(true)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := exporter.Export(context.Background(), records, &buf); err != nil {
			b.Fatal(err)
		}
	}
}
