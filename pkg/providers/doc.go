// Package providers forwards governed requests to an OpenAI-compatible
// upstream.
//
// The governance pipeline consumes the upstream through the
// pipeline.Forwarder interface. HTTPForwarder is the implementation the
// server uses: a pooled HTTP client posting to {base_url}/chat/completions
// with bearer authentication. DryRun is the forwarder used by the replay
// command; it never performs network I/O.
//
// # Errors
//
// Non-2xx responses are returned as *UpstreamError carrying the status
// code and the provider's error message. Transport failures are wrapped
// the same way with StatusCode 0. Context cancellation and deadlines are
// returned wrapped so callers can test them with errors.Is.
//
// # Health
//
// The forwarder tracks passive health from live traffic. After three
// consecutive failures it reports unhealthy until a request succeeds.
package providers
