package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/proxy/types"
)

// DefaultMaxRequestBytes bounds a request body when no limit is given.
const DefaultMaxRequestBytes = 10 << 20

// Request and response headers.
const (
	// PolicyHeader selects the policy for a request.
	PolicyHeader = "X-Warden-Policy"

	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"

	HeaderModel       = "X-Warden-Model"
	HeaderCache       = "X-Warden-Cache"
	HeaderCost        = "X-Warden-Cost"
	HeaderPIIFindings = "X-Warden-PII-Findings"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RequestError is a malformed or invalid request.
type RequestError struct {
	Message string
	Code    string
	Param   string
	Status  int
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts e to an OpenAI error body.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	return types.NewInvalidRequestError(e.Message, e.Param, e.Code)
}

// ParseChatCompletionRequest decodes and validates the body of r. Bodies
// over maxBytes are rejected, and so is stream=true.
func ParseChatCompletionRequest(r *http.Request, maxBytes int64) (*types.ChatCompletionRequest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("failed to read request body: %v", err),
			Code:    types.CodeInvalidValue,
			Param:   "body",
		}
	}
	if int64(len(body)) > maxBytes {
		return nil, &RequestError{
			Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBytes),
			Code:    types.CodeRequestTooLarge,
			Param:   "body",
			Status:  http.StatusRequestEntityTooLarge,
		}
	}

	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}

	if req.Stream {
		return nil, &RequestError{
			Message: "streaming responses are not supported; set stream to false",
			Code:    types.CodeStreamingUnsupported,
			Param:   "stream",
		}
	}

	if err := req.Validate(); err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			return nil, &RequestError{Message: verr.Message, Code: types.CodeInvalidValue, Param: verr.Field}
		}
		return nil, err
	}
	return &req, nil
}
