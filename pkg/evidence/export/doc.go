// Package export writes evidence records as JSON or CSV.
//
// Both exporters take a slice through Export, or a channel through
// ExportStream for result sets paged out of storage:
//
//	exporter := export.NewCSVExporter(true)
//	if err := exporter.Export(ctx, records, os.Stdout); err != nil {
//	    return err
//	}
//
// JSON output round-trips through the evidence digest, so an exported
// record can be checked with recorder.Verify. Failures are returned as
// *evidence.ExportError.
package export
