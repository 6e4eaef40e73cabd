// Package types defines the OpenAI-compatible wire types warden accepts
// and returns, plus the governance metadata attached to responses.
//
// Request types:
//   - ChatCompletionRequest: body of POST /v1/chat/completions
//   - Message: one role-tagged message; Content may be a string or a
//     list of content parts
//
// Response types:
//   - ChatCompletionResponse: provider response plus the Governance block
//   - Governance: cost, PII, cache, routing, and rate-limit metadata
//
// Error types:
//   - ErrorResponse: OpenAI-style error envelope
package types
