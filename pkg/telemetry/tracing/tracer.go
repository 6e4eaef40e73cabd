package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/warden/pkg/config"
)

// InstrumentationName names the gateway's tracer.
const InstrumentationName = "mercator-hq/warden"

// Tracer owns the tracer provider.
type Tracer struct {
	config   config.TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New creates a Tracer. When tracing is disabled the returned tracer is a
// no-op and nothing is installed globally. version is recorded as the
// service version.
//
// The tracer must be shut down to flush pending spans:
//
//	defer tracer.Shutdown(ctx)
func New(ctx context.Context, cfg config.TracingConfig, version string) (*Tracer, error) {
	t := &Tracer{config: cfg, enabled: cfg.Enabled}
	if !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer(InstrumentationName)
		return t, nil
	}

	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}

	exporter, err := createOTLPExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return newWithProvider(cfg, sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)), nil
}

// newWithProvider installs provider globally and wraps it.
func newWithProvider(cfg config.TracingConfig, provider *sdktrace.TracerProvider) *Tracer {
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	return &Tracer{
		config:   cfg,
		tracer:   provider.Tracer(InstrumentationName),
		provider: provider,
		enabled:  true,
	}
}

// Tracer returns the trace.Tracer spans are started on.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// Start starts a span as a child of the span in ctx.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// createOTLPExporter does not wait for the collector; the batcher retries
// in the background.
func createOTLPExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent("warden")),
	}
	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// TraceID returns the trace ID in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SetStatus records err on span and sets the span status. reason, when
// set, replaces the error text as the status description.
func SetStatus(span trace.Span, err error, reason string) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	if reason == "" {
		reason = err.Error()
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.SetStatus(codes.Error, reason)
}
