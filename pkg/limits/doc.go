// Package limits holds what the cost and rate guards share: wall-clock
// window arithmetic, ledger key layout, failure-mode resolution, and
// Prometheus instrumentation.
//
// The guards themselves live in subpackages:
//
//   - budget: CostGuard, reserve/commit/release over spend ledgers
//   - ratelimit: RateLimiter, per-window request quotas
//   - storage: the shared key-value store both guards mutate
//
// Every mutation goes through storage.Store.IncrementAll, so a check and its
// increment are one atomic step. There is no check-then-act window.
package limits
