package types

import "net/http"

// ErrorResponse is the OpenAI-compatible error body. Every failure the
// gateway returns uses it so client SDKs surface the message unchanged.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, category and machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error types. Each maps to one HTTP status.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypePermissionDenied   = "permission_denied"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeServerError        = "server_error"
	ErrorTypeBadGateway         = "bad_gateway"
	ErrorTypeServiceUnavailable = "service_unavailable"
	ErrorTypeGatewayTimeout     = "gateway_timeout"
)

var statusByType = map[string]int{
	ErrorTypeInvalidRequest:     http.StatusBadRequest,
	ErrorTypePermissionDenied:   http.StatusForbidden,
	ErrorTypeNotFound:           http.StatusNotFound,
	ErrorTypeRateLimitExceeded:  http.StatusTooManyRequests,
	ErrorTypeServerError:        http.StatusInternalServerError,
	ErrorTypeBadGateway:         http.StatusBadGateway,
	ErrorTypeServiceUnavailable: http.StatusServiceUnavailable,
	ErrorTypeGatewayTimeout:     http.StatusGatewayTimeout,
}

// Request codes.
const (
	CodeInvalidValue         = "invalid_value"
	CodeInvalidJSON          = "invalid_json"
	CodeRequestTooLarge      = "request_too_large"
	CodeStreamingUnsupported = "streaming_unsupported"
	CodeInternalError        = "internal_error"
)

// Governance codes. A block never reaches the provider.
const (
	CodePIIBlocked       = "pii_blocked"
	CodeCostLimit        = "cost_limit_exceeded"
	CodeRateLimit        = "rate_limit_exceeded"
	CodePolicyNotFound   = "policy_not_found"
	CodePolicyInvalid    = "policy_invalid"
	CodeStoreUnavailable = "store_unavailable"
)

// Provider codes.
const (
	CodeProviderError   = "provider_error"
	CodeProviderTimeout = "provider_timeout"
)

// NewErrorResponse builds an error body.
func NewErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{Message: message, Type: errorType, Param: param, Code: code}}
}

func NewInvalidRequestError(message, param, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, param, code)
}

// NewPermissionDeniedError is a governance block (403).
func NewPermissionDeniedError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypePermissionDenied, "", code)
}

func NewNotFoundError(message, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeNotFound, "", code)
}

func NewRateLimitError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeRateLimitExceeded, "", CodeRateLimit)
}

func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, "", CodeInternalError)
}

func NewBadGatewayError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeBadGateway, "", CodeProviderError)
}

func NewGatewayTimeoutError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeGatewayTimeout, "", CodeProviderTimeout)
}

// NewStoreUnavailableError is returned when a fail-closed guard cannot
// reach its store (503).
func NewStoreUnavailableError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServiceUnavailable, "", CodeStoreUnavailable)
}

// HTTPStatusCode maps the error type to a status. Unknown types are 500.
func (e *ErrorDetail) HTTPStatusCode() int {
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}
