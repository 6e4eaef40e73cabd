// Package tokens estimates prompt and completion token counts before a
// request is forwarded.
//
// The estimate is character based: each text is ceil(len/CharsPerToken)
// tokens, and every message adds a fixed formatting overhead plus its role.
// Completion tokens are the request's max_tokens, or DefaultCompletion
// when the client sets none. The estimate is deterministic, which makes
// cost reservations reproducible.
package tokens
