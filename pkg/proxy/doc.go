// Package proxy holds the HTTP plumbing shared by the handlers: request
// parsing, the mapping from governance errors to OpenAI-compatible error
// responses, and response writing with governance headers.
//
// Error mapping:
//
//	request parse/validation        400 invalid_request_error
//	policy_invalid                  500 server_error
//	pii_blocked, cost_limit         403 permission_denied
//	rate_limited                    429 rate_limit_exceeded, with Retry-After
//	store_unavailable               503 service_unavailable
//	upstream_error                  502 bad_gateway, or 504 on timeout
//	anything else                   500 server_error
package proxy
