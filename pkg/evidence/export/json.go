package export

import (
	"context"
	"io"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/evidence"
)

// JSONExporter writes records as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes records as one JSON array. No records writes "[]".
func (e *JSONExporter) Export(ctx context.Context, records []*evidence.Record, w io.Writer) error {
	if records == nil {
		records = []*evidence.Record{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return evidence.NewExportError("json", len(records), err)
	}

	if _, err := w.Write(data); err != nil {
		return evidence.NewExportError("json", len(records), err)
	}
	return nil
}

// ExportStream writes records from ch as a JSON array until ch is closed.
// Pretty is ignored; each record is written on its own line.
func (e *JSONExporter) ExportStream(ctx context.Context, ch <-chan *evidence.Record, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return evidence.NewExportError("json", 0, err)
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-ch:
			if !ok {
				if _, err := io.WriteString(w, "\n]\n"); err != nil {
					return evidence.NewExportError("json", count, err)
				}
				return nil
			}

			data, err := json.Marshal(record)
			if err != nil {
				return evidence.NewExportError("json", count, err)
			}
			sep := ",\n"
			if count == 0 {
				sep = "\n"
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return evidence.NewExportError("json", count, err)
			}
			if _, err := w.Write(data); err != nil {
				return evidence.NewExportError("json", count, err)
			}
			count++
		}
	}
}
