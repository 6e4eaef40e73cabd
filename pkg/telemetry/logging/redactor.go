package logging

import (
	"context"
	"log/slog"
	"strings"
)

// Redactor rewrites text so it no longer contains PII. *pii.Detector
// implements it.
type Redactor interface {
	Redact(text string) string
}

// RedactorFunc adapts a function to Redactor.
type RedactorFunc func(string) string

// Redact calls f.
func (f RedactorFunc) Redact(text string) string {
	return f(text)
}

// sensitiveKeys are attribute key fragments whose values are always masked.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization", "private_key", "privatekey",
}

// RedactingHandler redacts the message and every string attribute of a
// record before passing it on.
type RedactingHandler struct {
	next     slog.Handler
	redactor Redactor
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler, r Redactor) *RedactingHandler {
	return &RedactingHandler{next: next, redactor: r}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, ga := range group {
			out[i] = h.redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	var text string
	switch a.Value.Kind() {
	case slog.KindString:
		text = a.Value.String()
	case slog.KindAny:
		err, ok := a.Value.Any().(error)
		if !ok {
			return a
		}
		text = err.Error()
	default:
		// Numbers, bools, times, and durations carry no free text.
		return a
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, maskValue(text))
	}
	return slog.String(a.Key, h.redactor.Redact(text))
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskValue keeps a short prefix for correlation.
func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***"
}
