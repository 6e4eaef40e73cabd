package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/telemetry/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = proxy.RequestIDHeader

// maxRequestIDLength bounds a client-supplied ID.
const maxRequestIDLength = 128

// RequestID assigns each request an ID, reusing a well-formed client
// X-Request-ID, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// validRequestID accepts printable ASCII without spaces.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
