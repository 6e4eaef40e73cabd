package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader echoes the trace ID to clients.
const TraceIDHeader = "X-Trace-ID"

// Extract returns ctx carrying the trace context found in headers.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the trace context in ctx into headers.
func Inject(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// HTTPMiddleware continues the caller's trace and starts a server span
// per request on tracer.
func HTTPMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := Extract(r.Context(), r.Header)
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(HTTPAttributes(r)...),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.IsValid() {
				w.Header().Set(TraceIDHeader, sc.TraceID().String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
