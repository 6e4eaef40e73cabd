package pipeline

import "fmt"

// Kind classifies a blocked request.
type Kind string

const (
	KindPolicyInvalid    Kind = "policy_invalid"
	KindPIIBlocked       Kind = "pii_blocked"
	KindRateLimited      Kind = "rate_limited"
	KindCostLimit        Kind = "cost_limit"
	KindStoreUnavailable Kind = "store_unavailable"
	KindUpstreamError    Kind = "upstream_error"
)

// Kinds lists every violation kind.
var Kinds = []Kind{
	KindPolicyInvalid,
	KindPIIBlocked,
	KindRateLimited,
	KindCostLimit,
	KindStoreUnavailable,
	KindUpstreamError,
}

// Violation is returned when a stage blocks a request. Err is the typed
// cause: *budget.LimitExceededError, *ratelimit.ExceededError,
// *pii.BlockedError, *providers.UpstreamError, and so on.
type Violation struct {
	Kind   Kind
	Reason string
	Err    error
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v.Reason == "" {
		return string(v.Kind)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Reason)
}

// Unwrap returns the cause.
func (v *Violation) Unwrap() error {
	return v.Err
}

func violation(kind Kind, err error) *Violation {
	v := &Violation{Kind: kind, Err: err}
	if err != nil {
		v.Reason = err.Error()
	}
	return v
}
