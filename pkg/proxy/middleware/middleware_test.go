package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/telemetry/logging"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"client supplied", "trace-abc-123", true},
		{"with spaces", "has space", false},
		{"too long", strings.Repeat("a", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logging.GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Header().Get(RequestIDHeader) != seen {
				t.Errorf("Response header %q differs from context %q", w.Header().Get(RequestIDHeader), seen)
			}
			if tt.keep {
				if seen != tt.incoming {
					t.Errorf("Expected client ID kept, got %q", seen)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("Expected generated UUID, got %q", seen)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	var seen string
	h := Identity(pipeline.IdentityOptions{ClientIDHeader: "X-Warden-Client"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = logging.GetClient(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Warden-Client", "team-a")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "team-a" {
		t.Errorf("Expected header identity, got %q", seen)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 16 {
		t.Errorf("Expected hashed identity, got %q", seen)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	logger, err := logging.New(logging.Config{Level: "debug", Format: string(logging.FormatJSON), Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	slog.SetDefault(logger)

	h := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetStartTime(r.Context()).IsZero() {
			t.Error("Expected start time in context")
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("no"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"msg":"Request completed"`, `"status":403`, `"level":"WARN"`, `"request_id":"req-42"`, `"bytes":2`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in log output:\n%s", want, out)
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("Panic value must not reach the client")
	}
	if !strings.Contains(w.Body.String(), "server_error") {
		t.Errorf("Expected OpenAI error body, got %s", w.Body.String())
	}
}

func TestAdmission_Allow(t *testing.T) {
	a := NewAdmission(1, 2)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := a.Allow("c", now); !ok {
			t.Fatalf("Request %d within burst refused", i+1)
		}
	}
	ok, wait := a.Allow("c", now)
	if ok || wait <= 0 || wait > time.Second {
		t.Errorf("Expected refusal with wait up to 1s, got %v %v", ok, wait)
	}
	if ok, _ := a.Allow("other", now); !ok {
		t.Error("Expected separate bucket per client")
	}
	if ok, _ := a.Allow("c", now.Add(time.Second)); !ok {
		t.Error("Expected token refilled after 1s")
	}
}

func TestAdmission_Disabled(t *testing.T) {
	a := NewAdmission(0, 0)
	if a.Enabled() {
		t.Error("Expected disabled admission")
	}
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	for i := 0; i < 100; i++ {
		if ok, _ := a.Allow("c", time.Now()); !ok {
			t.Fatal("Disabled admission must allow everything")
		}
	}
	if a.Middleware(next) == nil {
		t.Error("Expected passthrough handler")
	}
}

func TestAdmission_Middleware(t *testing.T) {
	a := NewAdmission(0.001, 1)
	h := Identity(pipeline.IdentityOptions{ClientIDHeader: "X-Warden-Client"})(
		a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Warden-Client", "c")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("Expected first request admitted, got %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After")
	}
}
