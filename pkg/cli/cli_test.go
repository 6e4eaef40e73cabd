package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"
)

type table struct{}

func (table) Header() []string { return []string{"name", "limit"} }
func (table) Rows() [][]string {
	return [][]string{{"default", "10"}, {"strict, eu", "1"}}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		wantErr bool
	}{
		{"", false},
		{FormatText, false},
		{FormatJSON, false},
		{FormatYAML, false},
		{FormatCSV, false},
		{"xml", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			_, err := NewFormatter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
		})
	}
}

func TestFormatters(t *testing.T) {
	data := map[string]int{"requests": 3}

	tests := []struct {
		name   string
		format OutputFormat
		data   any
		want   string
	}{
		{"text table", FormatText, table{}, "default     10"},
		{"text value", FormatText, "hello", "hello\n"},
		{"json", FormatJSON, data, "\"requests\": 3"},
		{"yaml", FormatYAML, data, "requests: 3"},
		{"csv quotes commas", FormatCSV, table{}, "\"strict, eu\",1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			if err := f.FormatTo(&buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Expected output to contain %q, got:\n%s", tt.want, buf.String())
			}
		})
	}
}

func TestCSVFormatter_RejectsNonTable(t *testing.T) {
	if err := (&CSVFormatter{}).FormatTo(&bytes.Buffer{}, 42); err == nil {
		t.Error("Expected an error for non-table data")
	}
}

func TestErrors(t *testing.T) {
	cfgErr := NewConfigError("server.listen_address", "missing required field")
	if cfgErr.Error() != "config error in server.listen_address: missing required field" {
		t.Errorf("Unexpected message %q", cfgErr.Error())
	}
	if NewConfigError("", "bad").Error() != "config error: bad" {
		t.Errorf("Unexpected message %q", NewConfigError("", "bad").Error())
	}

	cause := errors.New("boom")
	cmdErr := NewCommandError("run", cause)
	if !errors.Is(cmdErr, cause) {
		t.Error("CommandError should unwrap to its cause")
	}
	if cmdErr.Error() != "command run failed: boom" {
		t.Errorf("Unexpected message %q", cmdErr.Error())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("x"), ExitFailure},
		{"config", NewConfigError("a", "b"), ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("a", "b")), ExitConfig},
		{"command", NewCommandError("run", errors.New("x")), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "Exporting")

	progress.Start(100)
	progress.Update(50)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Exporting:") || !strings.Contains(output, "(100/100)") {
		t.Errorf("Unexpected progress output %q", output)
	}
}

func TestProgress_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "")
	progress.Start(0)
	progress.Update(7)
	progress.Finish()

	out := buf.String()
	if strings.Contains(out, "[") || !strings.Contains(out, "Progress: 7 done") {
		t.Errorf("Unknown total should print a count, got %q", out)
	}
}

func TestProgress_Throttled(t *testing.T) {
	buf := &bytes.Buffer{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	progress := &Progress{w: buf, label: "Replaying", now: func() time.Time { return now }}

	progress.Start(1000)
	for i := int64(1); i < 1000; i++ {
		progress.Update(i)
	}
	if n := strings.Count(buf.String(), "\r"); n != 1 {
		t.Errorf("Expected updates inside the interval to be skipped, got %d draws", n)
	}

	now = now.Add(2 * time.Second)
	progress.Update(500)
	if !strings.Contains(buf.String(), "(500/1000) eta 2s") {
		t.Errorf("Expected a redraw with an estimate, got %q", buf.String())
	}
}

func TestProgress_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "")
	progress.Start(10)
	progress.Error(errors.New("disk full"))

	if !strings.Contains(buf.String(), "disk full") {
		t.Errorf("Expected error in output, got %q", buf.String())
	}
}

func TestSignalContext(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Skipf("cannot signal self: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Context not cancelled by SIGTERM")
	}
}

func TestSignalContext_Stop(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	stop()
	if ctx.Err() == nil {
		t.Error("stop should cancel the context")
	}
}
