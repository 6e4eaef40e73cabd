// Package server assembles the governance gateway and runs its HTTP
// listener.
//
// New builds every component from a *config.Config: the policy manager,
// the shared counter store, the cost guard and rate limiter, the response
// cache, the model router, the upstream forwarder, the evidence recorder,
// metrics, tracing, and health checks. Start serves until the context is
// cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully:
//
//	srv, err := server.New(cfg, server.BuildInfo{Version: version})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// # Routes
//
//   - POST /v1/chat/completions: governed chat completion
//   - GET /health: liveness
//   - GET /ready: readiness (policies critical; store, upstream, and evidence optional)
//   - GET /version: build information
//   - GET /metrics: Prometheus scrape endpoint, when enabled
//   - GET /v1/warden/stats: pipeline, cache, routing, and upstream counters
//   - GET /v1/warden/policies[/{name}]: loaded policies
//
// # Middleware
//
// From the outside in: Recovery, RequestID, tracing, Identity, Logging.
// Per-client admission control wraps only the chat endpoint.
//
// # Shutdown
//
// Shutdown stops the listener, waits for in-flight requests up to the
// configured timeout, stops policy watching and pruning, drains the
// evidence recorder, and closes the stores.
package server
