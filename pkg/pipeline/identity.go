package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// IdentityOptions control how a client identity is derived.
type IdentityOptions struct {
	// ClientIDHeader names a trusted header carrying the client id. Empty
	// disables it.
	ClientIDHeader string

	// TrustForwardedFor uses the first X-Forwarded-For address as the
	// remote IP.
	TrustForwardedFor bool
}

// ClientIdentityFrom returns the identity counters are keyed by: the
// trusted client id header when present, otherwise the first 16 hex
// characters of sha256(remote_ip + ":" + user_agent).
func ClientIdentityFrom(r *http.Request, opts IdentityOptions) string {
	if opts.ClientIDHeader != "" {
		if id := strings.TrimSpace(r.Header.Get(opts.ClientIDHeader)); id != "" {
			return id
		}
	}

	sum := sha256.Sum256([]byte(remoteIP(r, opts.TrustForwardedFor) + ":" + r.UserAgent()))
	return hex.EncodeToString(sum[:])[:16]
}

func remoteIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
