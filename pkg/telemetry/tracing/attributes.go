package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrPolicy       = "warden.policy"
	AttrRequestID    = "warden.request_id"
	AttrRouteRule    = "warden.route_rule"
	AttrCost         = "warden.cost"
	AttrCostEstimate = "warden.cost_estimate"
	AttrCacheHit     = "warden.cache_hit"
	AttrPIIFindings  = "warden.pii_findings"
	AttrBlockedKind  = "warden.blocked_kind"
	AttrDegraded     = "warden.degraded"

	AttrModel          = "llm.model"
	AttrRequestedModel = "llm.requested_model"
	AttrMessageCount   = "llm.message_count"
	AttrMaxTokens      = "llm.max_tokens"
	AttrUpstream       = "llm.upstream"
)

// Decision is the governance outcome recorded on the request span.
type Decision struct {
	Policy         string
	RequestedModel string
	Model          string
	RouteRule      int
	Messages       int
	MaxTokens      *int
	EstimatedCost  float64
	ActualCost     float64
	CacheHit       bool
	PIIFindings    int
	Degraded       bool
	BlockedKind    string
}

// SetDecisionAttributes records d on span.
func SetDecisionAttributes(span trace.Span, d Decision) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrPolicy, d.Policy),
		attribute.String(AttrModel, d.Model),
		attribute.Int(AttrMessageCount, d.Messages),
		attribute.Int(AttrRouteRule, d.RouteRule),
		attribute.Float64(AttrCostEstimate, d.EstimatedCost),
		attribute.Float64(AttrCost, d.ActualCost),
		attribute.Bool(AttrCacheHit, d.CacheHit),
		attribute.Int(AttrPIIFindings, d.PIIFindings),
	}
	if d.RequestedModel != "" && d.RequestedModel != d.Model {
		attrs = append(attrs, attribute.String(AttrRequestedModel, d.RequestedModel))
	}
	if d.MaxTokens != nil {
		attrs = append(attrs, attribute.Int(AttrMaxTokens, *d.MaxTokens))
	}
	if d.Degraded {
		attrs = append(attrs, attribute.Bool(AttrDegraded, true))
	}
	if d.BlockedKind != "" {
		attrs = append(attrs, attribute.String(AttrBlockedKind, d.BlockedKind))
	}
	span.SetAttributes(attrs...)
}

// HTTPAttributes describes an inbound request.
func HTTPAttributes(r *http.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(r.URL.Path),
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginalKey.String(ua))
	}
	return attrs
}
