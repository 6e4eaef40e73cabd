package middleware

import (
	"net/http"

	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// Identity derives the client identity once per request and stores it in
// the context for the admission limiter, logs, and the chat handler.
func Identity(opts pipeline.IdentityOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := pipeline.ClientIdentityFrom(r, opts)
			next.ServeHTTP(w, r.WithContext(logging.WithClient(r.Context(), client)))
		})
	}
}
