package routing

import (
	"runtime"
	"strings"
	"sync"
	"weak"

	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/policy/condition"
	"mercator-hq/warden/pkg/processing/tokens"
	"mercator-hq/warden/pkg/proxy/types"
)

// Decision is the result of routing a request.
type Decision struct {
	// Model is the upstream model to call.
	Model string

	// RuleIndex is the matching rule, or -1 when the policy has no rules.
	RuleIndex int

	// Condition is the matching rule's condition text.
	Condition string
}

// Rerouted reports whether the decision changed the requested model.
func (d Decision) Rerouted(requested string) bool {
	return d.Model != requested
}

type compiled struct {
	routes []condition.Condition
	err    error
}

// Router evaluates routing rules. It is safe for concurrent use.
type Router struct {
	estimator tokens.Estimator
	stats     *Stats

	// compiledRoutes memoises conditions for policies that were not
	// compiled by validation, keyed by policy pointer.
	compiledRoutes sync.Map // weak.Pointer[policy.Policy] -> *compiled
}

// NewRouter creates a router. The estimator supplies the tokens fact.
func NewRouter(estimator tokens.Estimator) *Router {
	if estimator == nil {
		estimator = tokens.NewSimpleEstimator(tokens.Config{})
	}
	return &Router{
		estimator: estimator,
		stats:     NewStats(),
	}
}

// Select returns the routing decision for req under p. An error is only
// possible for a policy that failed validation.
func (r *Router) Select(req *types.ChatCompletionRequest, p *policy.Policy) (Decision, error) {
	if p == nil || len(p.Routing) == 0 {
		r.stats.record(req.Model, -1)
		return Decision{Model: req.Model, RuleIndex: -1}, nil
	}

	routes, err := r.routes(p)
	if err != nil {
		r.stats.recordError()
		return Decision{}, err
	}

	facts := FactsFor(req, r.estimator)
	for i, c := range routes {
		if c.Eval(facts) {
			d := Decision{Model: p.Routing[i].Model, RuleIndex: i, Condition: c.String()}
			r.stats.record(d.Model, i)
			return d, nil
		}
	}

	// Only reachable for a policy without a default rule.
	r.stats.record(req.Model, -1)
	return Decision{Model: req.Model, RuleIndex: -1}, nil
}

// Stats returns the router's counters.
func (r *Router) Stats() *Stats {
	return r.stats
}

func (r *Router) routes(p *policy.Policy) ([]condition.Condition, error) {
	if routes := p.Routes(); len(routes) == len(p.Routing) {
		return routes, nil
	}

	key := weak.Make(p)
	if v, ok := r.compiledRoutes.Load(key); ok {
		c := v.(*compiled)
		return c.routes, c.err
	}

	c := &compiled{routes: make([]condition.Condition, 0, len(p.Routing))}
	for _, rule := range p.Routing {
		cond, err := condition.Parse(rule.Condition)
		if err != nil {
			c.routes, c.err = nil, err
			break
		}
		c.routes = append(c.routes, cond)
	}

	if _, loaded := r.compiledRoutes.LoadOrStore(key, c); !loaded {
		runtime.AddCleanup(p, func(k weak.Pointer[policy.Policy]) {
			r.compiledRoutes.Delete(k)
		}, key)
	}
	return c.routes, c.err
}

// FactsFor derives the routing facts of req.
func FactsFor(req *types.ChatCompletionRequest, estimator tokens.Estimator) condition.Facts {
	f := condition.Facts{
		Model:        req.Model,
		MessageCount: len(req.Messages),
		Tokens:       estimator.EstimateRequest(req, req.Model).PromptTokens,
	}
	if req.MaxTokens != nil {
		f.MaxTokens = *req.MaxTokens
		f.HasMaxTokens = true
	}

	parts := make([]string, 0, len(req.Messages))
	for i := range req.Messages {
		parts = append(parts, req.Messages[i].Text())
	}
	f.Content = strings.Join(parts, "\n")
	f.ContentLength = len(f.Content)
	if n := len(parts); n > 0 {
		f.LastMessage = parts[n-1]
		f.LastMessageLength = len(f.LastMessage)
	}
	return f
}
