package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/warden/pkg/cache"
	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/limits/budget"
	"mercator-hq/warden/pkg/limits/ratelimit"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/processing/pii"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/routing"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

var (
	// ErrUnknownPolicy is returned when the policy source yields nothing,
	// not even a default. Unknown names fall back to the default policy.
	ErrUnknownPolicy = errors.New("no policy available")

	// ErrUpstreamTimeout is the cause of an upstream_error violation when
	// the forward exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrEmptyResponse is returned when a forwarder reports success
	// without a response.
	ErrEmptyResponse = errors.New("upstream returned no response")
)

// PolicySource resolves a policy by name. An empty or unknown name
// resolves to the default policy.
type PolicySource interface {
	Get(name string) *policy.Policy
}

// Forwarder sends the governed request upstream. The request's Model is
// the routed model.
type Forwarder interface {
	Forward(ctx context.Context, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error)

// Forward calls f.
func (f ForwarderFunc) Forward(ctx context.Context, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error) {
	return f(ctx, req)
}

// Config wires a Pipeline.
type Config struct {
	// Policies, Limiter, Budget, and Forwarder are required.
	Policies  PolicySource
	Limiter   *ratelimit.Limiter
	Budget    *budget.Guard
	Forwarder Forwarder

	// Detector defaults to pii.NewDetector().
	Detector *pii.Detector

	// Router defaults to routing.NewRouter(nil).
	Router *routing.Router

	// Cache is optional; nil disables caching for every policy.
	Cache *cache.Service

	// Sink receives one Event per request. Optional.
	Sink Sink

	// Tracer creates the per-request span. Default: no-op
	Tracer trace.Tracer

	// UpstreamTimeout bounds the forward. Default: 60s
	UpstreamTimeout time.Duration

	// SettleTimeout bounds the detached commit or release of a
	// reservation. Default: 2s
	SettleTimeout time.Duration
}

// Request is one chat completion to govern.
type Request struct {
	// ID correlates logs, traces, and audit records.
	ID string

	// PolicyName selects the policy. Empty selects the default.
	PolicyName string

	// Client is the client identity counters are keyed by.
	Client string

	Body *types.ChatCompletionRequest
}

// Response is a governed completion.
type Response struct {
	// Body is the completion with governance metadata attached.
	Body *types.ChatCompletionResponse

	Governance *types.Governance

	// CacheKey is set when caching was enabled for the request.
	CacheKey string

	// Estimate is the pre-flight estimate.
	Estimate budget.Estimate

	// RateLimit is the rate limit decision.
	RateLimit ratelimit.Result

	// RequestPII and ResponsePII report what the detector found.
	RequestPII  pii.Report
	ResponsePII pii.Report
}

// Pipeline applies governance to requests. It is safe for concurrent use.
type Pipeline struct {
	policies        PolicySource
	limiter         *ratelimit.Limiter
	budget          *budget.Guard
	detector        *pii.Detector
	cache           *cache.Service
	router          *routing.Router
	forwarder       Forwarder
	sink            Sink
	tracer          trace.Tracer
	upstreamTimeout time.Duration
	settleTimeout   time.Duration
	logger          *slog.Logger

	stats counters
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Policies == nil:
		return nil, errors.New("pipeline: policy source is required")
	case cfg.Limiter == nil:
		return nil, errors.New("pipeline: rate limiter is required")
	case cfg.Budget == nil:
		return nil, errors.New("pipeline: cost guard is required")
	case cfg.Forwarder == nil:
		return nil, errors.New("pipeline: forwarder is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = pii.NewDetector()
	}
	if cfg.Router == nil {
		cfg.Router = routing.NewRouter(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("warden/pipeline")
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 60 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 2 * time.Second
	}

	return &Pipeline{
		policies:        cfg.Policies,
		limiter:         cfg.Limiter,
		budget:          cfg.Budget,
		detector:        cfg.Detector,
		cache:           cfg.Cache,
		router:          cfg.Router,
		forwarder:       cfg.Forwarder,
		sink:            cfg.Sink,
		tracer:          cfg.Tracer,
		upstreamTimeout: cfg.UpstreamTimeout,
		settleTimeout:   cfg.SettleTimeout,
		logger:          slog.Default().With("component", "pipeline"),
	}, nil
}

// Stats returns aggregate counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// run carries per-request state between stages.
type run struct {
	req         *Request
	started     time.Time
	gov         *types.Governance
	reservation *budget.Reservation
	findings    []pii.Finding
	degraded    bool
	upstream    time.Duration

	cacheChecked bool
}

// Process governs req. A blocked request returns a *Violation. A request
// abandoned by the caller returns the context error.
func (p *Pipeline) Process(ctx context.Context, req *Request) (resp *Response, err error) {
	if req == nil || req.Body == nil {
		return nil, errors.New("pipeline: request body is required")
	}

	ctx, span := p.tracer.Start(ctx, "warden.process", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	r := &run{req: req, started: time.Now()}
	defer func() {
		rec := recover()
		p.settle(ctx, r)
		if rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
		p.finish(ctx, span, r, err)
		if rec != nil {
			panic(rec)
		}
	}()

	return p.process(ctx, r)
}

func (p *Pipeline) process(ctx context.Context, r *run) (*Response, error) {
	body := r.req.Body

	// 1. policy lookup
	pol := p.policies.Get(r.req.PolicyName)
	if pol == nil {
		return nil, violation(KindPolicyInvalid, fmt.Errorf("%w for %q", ErrUnknownPolicy, r.req.PolicyName))
	}
	r.gov = &types.Governance{
		Policy:         pol.Name,
		RequestedModel: body.Model,
		Model:          body.Model,
		RouteRule:      -1,
		RequestID:      r.req.ID,
	}

	if !pol.IsEnabled() {
		upstream, err := p.forward(ctx, r, body)
		if err != nil {
			return nil, err
		}
		return p.respond(r, upstream, &Response{}), nil
	}

	out := &Response{}

	// 2. request PII
	body, report, err := p.detector.ProcessRequest(body, pol.PII)
	out.RequestPII = report
	r.findings = append(r.findings, report.Findings...)
	if pol.PIIEnabled() {
		r.gov.PII.Action = string(pol.PII.Action)
	}
	r.gov.PII.RequestFindings = report.Count()
	if err != nil {
		return nil, violation(KindPIIBlocked, err)
	}

	// 3. rate limit
	rl, err := p.limiter.Check(ctx, pol, r.req.Client)
	out.RateLimit = rl
	r.degraded = r.degraded || rl.Degraded
	if err != nil {
		return nil, guardError(ctx, KindRateLimited, err)
	}
	if rl.Limited() {
		r.gov.RateLimit = &types.RateLimitInfo{
			Window:    string(rl.Window),
			Limit:     rl.Limit,
			Remaining: rl.Remaining,
			ResetUnix: rl.Reset.Unix(),
		}
	}

	// 4. cost reservation
	est := p.budget.Estimate(body, body.Model)
	out.Estimate = est
	r.gov.EstimatedCost = est.Cost
	res, err := p.budget.Reserve(ctx, pol, r.req.Client, est.Cost)
	if err != nil {
		return nil, guardError(ctx, KindCostLimit, err)
	}
	r.reservation = res
	r.degraded = r.degraded || res.Degraded

	// 5. cache lookup
	if p.cache != nil && pol.CacheEnabled() {
		key, err := p.cache.Key(body)
		if err != nil {
			p.logger.WarnContext(ctx, "Failed to derive cache key", "error", err)
		} else {
			out.CacheKey = key
			r.cacheChecked = true
			if cached := p.lookup(ctx, key); cached != nil {
				p.stats.cacheHits.Add(1)
				p.settle(ctx, r)
				r.gov.CacheHit = true
				r.gov.Model = cached.Model
				return p.respond(r, cached, out), nil
			}
			p.stats.cacheMisses.Add(1)
		}
	}

	// 6. routing
	decision, err := p.router.Select(body, pol)
	if err != nil {
		return nil, violation(KindPolicyInvalid, err)
	}
	r.gov.Model = decision.Model
	r.gov.RouteRule = decision.RuleIndex
	forwarded := body
	if decision.Rerouted(body.Model) {
		forwarded = body.Clone()
		forwarded.Model = decision.Model
	}

	// 7. forward
	upstream, err := p.forward(ctx, r, forwarded)
	if err != nil {
		return nil, err
	}

	// 8. response PII
	upstream, report, blockErr := p.detector.ProcessResponse(upstream, pol.PII)
	out.ResponsePII = report
	r.findings = append(r.findings, report.Findings...)
	r.gov.PII.ResponseFindings = report.Count()

	// 9. commit. The upstream call happened, so its cost is charged even
	// when the response is then blocked.
	actual := est.Cost
	if upstream.Usage.TotalTokens > 0 {
		actual = p.budget.Cost(decision.Model, upstream.Usage)
	}
	p.commit(ctx, r, actual)
	r.gov.ActualCost = actual
	if blockErr != nil {
		return nil, violation(KindPIIBlocked, blockErr)
	}

	// 10. cache store
	if out.CacheKey != "" {
		if err := p.cache.Store(ctx, out.CacheKey, upstream, pol.Cache.TTL()); err != nil {
			p.logger.DebugContext(ctx, "Response not cached", "error", err)
		}
	}

	return p.respond(r, upstream, out), nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) *types.ChatCompletionResponse {
	entry, err := p.cache.Lookup(ctx, key)
	if err != nil || entry == nil {
		return nil
	}
	resp, err := entry.Decode()
	if err != nil {
		p.logger.WarnContext(ctx, "Discarding undecodable cached response", "key", key, "error", err)
		return nil
	}
	return resp
}

func (p *Pipeline) forward(ctx context.Context, r *run, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error) {
	fctx, cancel := context.WithTimeout(ctx, p.upstreamTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.forwarder.Forward(fctx, req)
	r.upstream = time.Since(start)
	if err == nil && resp == nil {
		err = ErrEmptyResponse
	}
	if err == nil {
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("forward: %w", ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return nil, violation(KindUpstreamError, fmt.Errorf("%w after %s: %w", ErrUpstreamTimeout, p.upstreamTimeout, err))
	}
	return nil, violation(KindUpstreamError, err)
}

// respond attaches governance metadata to a copy of body.
func (p *Pipeline) respond(r *run, body *types.ChatCompletionResponse, out *Response) *Response {
	r.gov.PII.Types = pii.TypesOf(r.findings)
	cp := *body
	cp.Warden = r.gov
	out.Body = &cp
	out.Governance = r.gov
	return out
}

// settleContext detaches from the request so a reservation is settled
// even after the caller has gone.
func (p *Pipeline) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.settleTimeout)
}

func (p *Pipeline) commit(ctx context.Context, r *run, actual float64) {
	sctx, cancel := p.settleContext(ctx)
	defer cancel()
	if err := p.budget.Commit(sctx, r.reservation, actual); err != nil {
		r.degraded = true
		p.logger.WarnContext(ctx, "Cost commit failed, estimate stays on the ledger", "error", err)
	}
}

// settle releases an open reservation. It is a no-op once the reservation
// has been committed or released.
func (p *Pipeline) settle(ctx context.Context, r *run) {
	if r.reservation.Settled() {
		return
	}
	sctx, cancel := p.settleContext(ctx)
	defer cancel()
	if err := p.budget.Release(sctx, r.reservation); err != nil {
		p.logger.WarnContext(ctx, "Failed to release cost reservation", "error", err)
	}
}

func guardError(ctx context.Context, kind Kind, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	if errors.Is(err, limits.ErrStoreUnavailable) {
		return violation(KindStoreUnavailable, err)
	}
	return violation(kind, err)
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, r *run, err error) {
	e := Event{
		RequestID:       r.req.ID,
		Client:          r.req.Client,
		RequestedModel:  r.req.Body.Model,
		Model:           r.req.Body.Model,
		RouteRule:       -1,
		PIIFindings:     len(r.findings),
		PIITypes:        pii.TypesOf(r.findings),
		Degraded:        r.degraded,
		Latency:         time.Since(r.started),
		UpstreamLatency: r.upstream,
		At:              r.started.UTC(),
		CacheChecked:    r.cacheChecked,
	}
	if g := r.gov; g != nil {
		e.Policy = g.Policy
		e.Model = g.Model
		e.RouteRule = g.RouteRule
		e.EstimatedCost = g.EstimatedCost
		e.ActualCost = g.ActualCost
		e.CacheHit = g.CacheHit
	}

	var v *Violation
	switch {
	case errors.As(err, &v):
		e.BlockedKind = v.Kind
		e.Reason = v.Reason
	case err != nil:
		e.Canceled = ctx.Err() != nil
		e.Reason = err.Error()
	}

	p.stats.record(e)

	tracing.SetDecisionAttributes(span, tracing.Decision{
		Policy:         e.Policy,
		RequestedModel: e.RequestedModel,
		Model:          e.Model,
		RouteRule:      e.RouteRule,
		Messages:       len(r.req.Body.Messages),
		MaxTokens:      r.req.Body.MaxTokens,
		EstimatedCost:  e.EstimatedCost,
		ActualCost:     e.ActualCost,
		CacheHit:       e.CacheHit,
		PIIFindings:    e.PIIFindings,
		Degraded:       e.Degraded,
		BlockedKind:    string(e.BlockedKind),
	})
	tracing.SetStatus(span, err, string(e.BlockedKind))

	if p.sink != nil {
		p.sink.Emit(context.WithoutCancel(ctx), e)
	}

	switch {
	case e.BlockedKind != "":
		p.logger.InfoContext(ctx, "Request blocked",
			"policy", e.Policy,
			"kind", e.BlockedKind,
			"reason", e.Reason,
			"latency_ms", e.Latency.Milliseconds(),
		)
	case err != nil:
		p.logger.InfoContext(ctx, "Request abandoned", "policy", e.Policy, "error", err)
	default:
		p.logger.InfoContext(ctx, "Request governed",
			"policy", e.Policy,
			"model", e.Model,
			"route_rule", e.RouteRule,
			"estimated_cost", e.EstimatedCost,
			"actual_cost", e.ActualCost,
			"cache_hit", e.CacheHit,
			"pii_findings", e.PIIFindings,
			"degraded", e.Degraded,
			"latency_ms", e.Latency.Milliseconds(),
		)
	}
}
