// Package health implements the gateway's liveness and readiness probes.
//
// Components register named checks with a Checker. A failing critical
// check makes the gateway unhealthy and /ready answers 503; a failing
// non-critical check only degrades it and /ready still answers 200. The
// counter store is non-critical because the guards can fail open; the
// policy snapshot is critical because nothing can be governed without it.
//
// Liveness never runs checks.
package health
