// Package tracing sets up OpenTelemetry tracing for the gateway.
//
// New installs a tracer provider exporting over OTLP/gRPC, or a no-op
// provider when tracing is disabled, and sets the W3C trace context and
// baggage propagators globally. Incoming requests continue the caller's
// trace through HTTPMiddleware and the upstream call carries it on through
// Inject.
//
// Span attributes use the "warden.*" namespace for governance decisions and
// "llm.*" for request shape. Prompt and completion text is never recorded.
package tracing
