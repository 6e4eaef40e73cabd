package budget

import (
	"fmt"
	"time"

	"mercator-hq/warden/pkg/limits"
)

// Limit names the cap a reservation violated.
type Limit string

const (
	LimitRequest Limit = "request"
	LimitMinute  Limit = "minute"
	LimitDay     Limit = "day"
)

// LimitExceededError is returned when a reservation would pass a cap.
// Amounts are in USD.
type LimitExceededError struct {
	// Limit is the violated cap.
	Limit Limit

	// Cap is the configured cap.
	Cap float64

	// Current is the spend already recorded in the window. Always zero for
	// the per-request cap.
	Current float64

	// Requested is the estimate that was refused.
	Requested float64

	// Reset is when the violated window rolls over. Zero for the
	// per-request cap.
	Reset time.Time
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	if e.Limit == LimitRequest {
		return fmt.Sprintf("estimated cost $%.4f exceeds per-request limit $%.4f", e.Requested, e.Cap)
	}
	return fmt.Sprintf("estimated cost $%.4f would exceed %s cap $%.4f (current: $%.4f)",
		e.Requested, e.Limit, e.Cap, e.Current)
}

// Unwrap allows errors.Is(err, limits.ErrBudgetExceeded).
func (e *LimitExceededError) Unwrap() error {
	return limits.ErrBudgetExceeded
}
