// Package handlers provides the HTTP handlers of the gateway.
//
// ChatHandler serves POST /v1/chat/completions. It parses the body,
// hands it to the governance pipeline with the policy named by the
// X-Warden-Policy header, and writes either the governed completion with
// X-Warden-* headers or an OpenAI-compatible error.
//
// StatsHandler and PoliciesHandler are read-only operator endpoints:
//
//	GET /v1/warden/stats          pipeline, cache, routing, upstream counters
//	GET /v1/warden/policies       loaded policy names and snapshot version
//	GET /v1/warden/policies/{name} one policy as YAML
//
// Health endpoints live in the telemetry/health package.
package handlers
