package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned columns for tables, %v otherwise (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatYAML is YAML.
	FormatYAML OutputFormat = "yaml"
	// FormatCSV is CSV; only tables can be written as CSV.
	FormatCSV OutputFormat = "csv"
)

// Table is tabular command output.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Formatter writes command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter aligns tables into columns and prints anything else
// with %v.
type TextFormatter struct{}

// FormatTo writes data to w.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Header(), "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to w as JSON.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// FormatTo writes data to w as YAML.
func (f *YAMLFormatter) FormatTo(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// CSVFormatter writes a Table as CSV with a header row.
type CSVFormatter struct{}

// FormatTo writes data to w as CSV.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Table)
	if !ok {
		return fmt.Errorf("CSV output is not supported for %T", data)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows()); err != nil {
		return err
	}
	return cw.Error()
}

// NewFormatter creates a formatter for format. An empty format is text.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatText, "":
		return &TextFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (text, json, yaml, csv)", format)
	}
}
