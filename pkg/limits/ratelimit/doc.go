// Package ratelimit enforces per-policy request quotas over wall-clock
// windows.
//
// # Windows
//
// A policy may configure requests per minute, hour, and day. Each window is
// aligned to its granularity (a minute window covers 10:42:00 to 10:43:00)
// and counted in the shared store under
//
//	warden:rate:{policy}:{client|global}:{minute|hour|day}:{window_start}
//
// Check increments every configured window in one atomic IncrementAll. If
// any window is full nothing is incremented, so a rejected request never
// consumes quota. Keys for elapsed windows expire on their own.
//
// # Store outages
//
// When the store is unreachable the limiter fails open by default: the
// request is allowed, a warning is logged, and the degraded counter is
// incremented. A policy or the gateway config can select fail-closed.
package ratelimit
