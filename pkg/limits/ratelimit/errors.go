package ratelimit

import (
	"fmt"
	"time"

	"mercator-hq/warden/pkg/limits"
)

// ExceededError is returned when a window's quota is used up.
type ExceededError struct {
	// Window is the granularity that was exhausted.
	Window limits.Granularity

	// Limit is the configured quota for that window.
	Limit int64

	// Reset is when the window rolls over.
	Reset time.Time
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Limit, e.Window)
}

// Unwrap allows errors.Is(err, limits.ErrRateLimitExceeded).
func (e *ExceededError) Unwrap() error {
	return limits.ErrRateLimitExceeded
}
