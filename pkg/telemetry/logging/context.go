package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// PolicyKey is the context key for the selected policy name.
	PolicyKey contextKey = "policy"

	// ClientKey is the context key for the client identity.
	ClientKey contextKey = "client"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPolicy adds a policy name to the context.
func WithPolicy(ctx context.Context, policy string) context.Context {
	return context.WithValue(ctx, PolicyKey, policy)
}

// GetPolicy retrieves the policy name from the context.
func GetPolicy(ctx context.Context) string {
	if p, ok := ctx.Value(PolicyKey).(string); ok {
		return p
	}
	return ""
}

// WithClient adds a client identity to the context.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ClientKey, client)
}

// GetClient retrieves the client identity from the context.
func GetClient(ctx context.Context) string {
	if c, ok := ctx.Value(ClientKey).(string); ok {
		return c
	}
	return ""
}

// contextFields returns the request-scoped attributes carried by ctx.
func contextFields(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if p := GetPolicy(ctx); p != "" {
		attrs = append(attrs, slog.String("policy", p))
	}
	if c := GetClient(ctx); c != "" {
		attrs = append(attrs, slog.String("client", c))
	}
	return attrs
}

// FromContext returns the default logger with the context's request-scoped
// fields attached.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	attrs := contextFields(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// contextHandler adds request-scoped fields to records logged with a
// context. Fields already on the logger are not duplicated.
type contextHandler struct {
	slog.Handler
	bound map[string]bool
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, a := range contextFields(ctx) {
			if !h.bound[a.Key] {
				r.AddAttrs(a)
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make(map[string]bool, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = true
	}
	for _, a := range attrs {
		switch contextKey(a.Key) {
		case RequestIDKey, PolicyKey, ClientKey:
			bound[a.Key] = true
		}
	}
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), bound: bound}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), bound: h.bound}
}
