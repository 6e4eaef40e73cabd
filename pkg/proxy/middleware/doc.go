// Package middleware provides the HTTP middleware chain in front of the
// governed endpoints. The server applies it outermost first:
//
//	Recovery -> RequestID -> Identity -> Logging -> Admission -> handler
//
// RequestID and Identity store their values with the logging package's
// context helpers, so every log line written with a request's context
// carries request_id and client.
package middleware
