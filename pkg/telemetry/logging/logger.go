package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/warden/pkg/processing/pii"
)

// Format is a log output format.
type Format string

const (
	// FormatJSON outputs one JSON object per line.
	FormatJSON Format = "json"
	// FormatText outputs logfmt-style key=value lines.
	FormatText Format = "text"
	// FormatConsole is text output meant for terminals.
	FormatConsole Format = "console"
)

// Config configures New.
type Config struct {
	// Level is the minimum level: debug, info, warn, or error.
	// Default: info
	Level string

	// Format is json, text, or console. Default: json
	Format string

	// AddSource includes file:line in records.
	AddSource bool

	// RedactPII runs messages and string attributes through Redactor.
	RedactPII bool

	// Redactor overrides the default PII detector. Optional.
	Redactor Redactor

	// Writer is the output. Default: os.Stdout
	Writer io.Writer
}

// New creates a logger from cfg.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	switch format {
	case FormatText, FormatConsole:
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if cfg.RedactPII {
		r := cfg.Redactor
		if r == nil {
			r = pii.NewDetector()
		}
		handler = NewRedactingHandler(handler, r)
	}

	return slog.New(&contextHandler{Handler: handler}), nil
}

// Setup creates a logger from cfg and installs it as slog's default.
func Setup(cfg Config) (*slog.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel parses a level name. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func parseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	case "console":
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", s)
	}
}
