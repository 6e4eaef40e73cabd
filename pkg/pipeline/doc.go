// Package pipeline runs every governance check for a chat completion
// request.
//
// # Stages
//
// Process applies the stages in a fixed order:
//
//  1. policy lookup
//  2. request PII
//  3. rate limit
//  4. cost reservation
//  5. cache lookup
//  6. routing
//  7. forward
//  8. response PII
//  9. cost commit
//  10. cache store
//  11. audit and trace emission
//
// A stage that blocks returns a *Violation and no later stage runs. A cost
// reservation taken in stage 4 is released on every exit path that does not
// commit it, including cancellation and panics; the release runs detached
// from the request context so it completes after the client has gone.
//
// # Disabled policies
//
// A policy with enabled: false skips every guard and forwards the request
// unchanged.
package pipeline
