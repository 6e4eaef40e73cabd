package providers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrEmptyBaseURL is returned by NewHTTPForwarder without a base URL.
var ErrEmptyBaseURL = errors.New("upstream base URL is required")

// UpstreamError is a failed upstream call. StatusCode is 0 when no HTTP
// response was received.
type UpstreamError struct {
	// Provider is the configured upstream name.
	Provider string

	// StatusCode is the HTTP status returned by the upstream.
	StatusCode int

	// Message is the provider's error message, if it sent one.
	Message string

	// RetryAfter is parsed from the Retry-After header on 429 and 503.
	RetryAfter time.Duration

	// Err is the underlying transport or decode error.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("upstream %q returned %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("upstream %q returned %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("upstream %q: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("upstream %q failed", e.Provider)
	}
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request could succeed later: network
// failures, 429, and 5xx.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
