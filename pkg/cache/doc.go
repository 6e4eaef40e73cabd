// Package cache stores governance-approved LLM responses keyed by a digest
// of the canonical request.
//
// # Keys
//
// Requests that mean the same thing produce the same key. The canonical form
// keeps the model, the ordered messages, and the sampling parameters, with
// temperature and top_p defaulted to 1.0 when unset. The user field,
// streaming flag, and transport details do not affect the key. The
// canonical form is encoded with goccy/go-json and hashed with SHA-256, or
// BLAKE3 when configured:
//
//	warden:cache:{hex digest}
//
// # Backends
//
// The shared backend stores entries in the same storage.Store that holds
// the cost and rate counters, so every gateway replica sees them. The local
// backend keeps entries in process with a byte budget; a write that would
// exceed the budget is skipped.
//
// # Errors
//
// Backend failures are returned as *Error. Callers treat them as a miss;
// a broken cache never blocks a request.
package cache
