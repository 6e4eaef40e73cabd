package middleware

import (
	"net/http"
	"runtime/debug"

	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// Recovery turns a handler panic into a 500 in OpenAI error format. The
// panic value and stack are logged, never returned.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "Panic in handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			_ = proxy.WriteErrorResponse(w, types.NewServerError("An internal error occurred. Please try again later."))
		}()
		next.ServeHTTP(w, r)
	})
}
