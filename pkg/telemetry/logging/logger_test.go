package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"json", Config{Level: "info", Format: "json", RedactPII: true}, false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"console", Config{Level: "WARN", Format: "console"}, false},
		{"invalid level", Config{Level: "loud"}, true},
		{"invalid format", Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Writer = &buf
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("Hidden")
	logger.Warn("Shown")

	out := buf.String()
	if strings.Contains(out, "Hidden") {
		t.Error("Info record written at warn level")
	}
	if !strings.Contains(out, "Shown") {
		t.Error("Warn record missing")
	}
}

func decode(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("Invalid JSON log line %q: %v", line, err)
	}
	return m
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPolicy(ctx, "default")
	ctx = WithClient(ctx, "abc")
	logger.InfoContext(ctx, "Request governed", "model", "gpt-4o")

	m := decode(t, buf.Bytes())
	for k, want := range map[string]string{"request_id": "req-1", "policy": "default", "client": "abc", "model": "gpt-4o"} {
		if m[k] != want {
			t.Errorf("%s = %v, want %q", k, m[k], want)
		}
	}
}

func TestLogger_ContextFieldsNotDuplicated(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf, Format: "text"})
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	logger.With("request_id", "req-1").InfoContext(ctx, "Once")

	if n := strings.Count(buf.String(), "request_id="); n != 1 {
		t.Errorf("Expected request_id once, got %d in %q", n, buf.String())
	}
}

func TestLogger_PIIRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf, RedactPII: true})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("Mail from user@example.com",
		"prompt", "call 555-123-4567",
		"api_key", "sk-abcdefghijklmnopqrstuvwxyz",
		"error", errors.New("bad ssn 123-45-6789"),
		"max_tokens", 512,
		slog.Group("upstream", "url", "http://10.0.0.1/v1"),
	)

	out := buf.String()
	for _, leaked := range []string{"user@example.com", "555-123-4567", "abcdefghijklmnop", "123-45-6789", "10.0.0.1"} {
		if strings.Contains(out, leaked) {
			t.Errorf("Log output leaked %q: %s", leaked, out)
		}
	}

	m := decode(t, buf.Bytes())
	if m["msg"] != "Mail from [EMAIL]" {
		t.Errorf("Unexpected message %v", m["msg"])
	}
	if m["prompt"] != "call [PHONE]" {
		t.Errorf("Unexpected prompt %v", m["prompt"])
	}
	if m["max_tokens"] != float64(512) {
		t.Errorf("Numeric attribute should pass through, got %v", m["max_tokens"])
	}
}

func TestLogger_WithAttrsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf, RedactPII: true, Redactor: RedactorFunc(func(s string) string {
		return strings.ReplaceAll(s, "secret-value", "[X]")
	})})
	if err != nil {
		t.Fatal(err)
	}

	logger.With("note", "has secret-value").Info("Hello")
	if strings.Contains(buf.String(), "secret-value") {
		t.Errorf("Bound attribute not redacted: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	defer slog.SetDefault(prev)

	FromContext(WithRequestID(context.Background(), "req-9")).Info("Scoped")
	if m := decode(t, buf.Bytes()); m["request_id"] != "req-9" {
		t.Errorf("Expected request_id from context, got %v", m["request_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
