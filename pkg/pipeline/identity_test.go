package pipeline

import (
	"net/http/httptest"
	"testing"
)

func TestClientIdentityFrom(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		ua     string
		opts   IdentityOptions
		same   string // a case expected to produce the same identity
	}{
		{name: "remote addr and user agent", remote: "10.0.0.1:5555", ua: "sdk/1.0"},
		{name: "port ignored", remote: "10.0.0.1:6666", ua: "sdk/1.0", same: "remote addr and user agent"},
	}

	ids := map[string]string{}
	for _, tt := range tests {
		r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		r.RemoteAddr = tt.remote
		r.Header.Set("User-Agent", tt.ua)
		id := ClientIdentityFrom(r, tt.opts)
		if len(id) != 16 {
			t.Errorf("%s: expected 16 hex chars, got %q", tt.name, id)
		}
		ids[tt.name] = id
		if tt.same != "" && ids[tt.same] != id {
			t.Errorf("%s: expected identity %s, got %s", tt.name, ids[tt.same], id)
		}
	}
}

func TestClientIdentityFrom_Sources(t *testing.T) {
	base := httptest.NewRequest("POST", "/", nil)
	base.RemoteAddr = "10.0.0.1:1234"
	base.Header.Set("User-Agent", "sdk/1.0")
	baseID := ClientIdentityFrom(base, IdentityOptions{})

	t.Run("user agent changes identity", func(t *testing.T) {
		r := base.Clone(base.Context())
		r.Header.Set("User-Agent", "sdk/2.0")
		if ClientIdentityFrom(r, IdentityOptions{}) == baseID {
			t.Error("Expected different identity")
		}
	})

	t.Run("forwarded for ignored unless trusted", func(t *testing.T) {
		r := base.Clone(base.Context())
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		if ClientIdentityFrom(r, IdentityOptions{}) != baseID {
			t.Error("Untrusted X-Forwarded-For must be ignored")
		}
		if ClientIdentityFrom(r, IdentityOptions{TrustForwardedFor: true}) == baseID {
			t.Error("Trusted X-Forwarded-For must change identity")
		}
	})

	t.Run("client id header", func(t *testing.T) {
		r := base.Clone(base.Context())
		r.Header.Set("X-Client-ID", "team-search")
		opts := IdentityOptions{ClientIDHeader: "X-Client-ID"}
		if got := ClientIdentityFrom(r, opts); got != "team-search" {
			t.Errorf("Expected header identity, got %q", got)
		}
		if got := ClientIdentityFrom(base, opts); got != baseID {
			t.Errorf("Expected fallback to hashed identity, got %q", got)
		}
	})
}
