package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/evidence"
	evstorage "mercator-hq/warden/pkg/evidence/storage"
	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
)

const testPolicies = `
policies:
  - name: default
  - name: strict
    pii_detection:
      enabled: true
      action: block
      entities: [email]
`

func upstream(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req types.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": %q,
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`, req.Model)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(testPolicies), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Policy.Path = path
	watch := false
	cfg.Policy.Watch = &watch
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Evidence.Backend = "memory"
	cfg.Evidence.PruneSchedule = ""
	cfg.Telemetry.Logging.Level = "error"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, BuildInfo{Version: "test", Commit: "abc123"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func chat(t *testing.T, h http.Handler, policy, content string) *httptest.ResponseRecorder {
	t.Helper()
	body := fmt.Sprintf(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":%q}]}`, content)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if policy != "" {
		req.Header.Set(proxy.PolicyHeader, policy)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_ChatCompletion(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)

	rec := chat(t, srv.Handler(), "", "hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(proxy.HeaderModel) != "gpt-4o-mini" {
		t.Errorf("Unexpected model header %q", rec.Header().Get(proxy.HeaderModel))
	}
	if rec.Header().Get(proxy.RequestIDHeader) == "" {
		t.Error("Expected a request ID header")
	}

	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response JSON: %v", err)
	}
	if resp.Warden == nil || resp.Warden.Policy != "default" {
		t.Errorf("Expected governance metadata for the default policy, got %+v", resp.Warden)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 upstream call, got %d", calls.Load())
	}
}

func TestServer_UnknownPolicyFallsBackToDefault(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)

	rec := chat(t, srv.Handler(), "no-such-policy", "hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response JSON: %v", err)
	}
	if resp.Warden == nil || resp.Warden.Policy != "default" {
		t.Errorf("Expected the default policy, got %+v", resp.Warden)
	}
}

func TestServer_PIIBlockedNeverReachesUpstream(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)

	rec := chat(t, srv.Handler(), "strict", "mail me at a@b.com")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), types.CodePIIBlocked) {
		t.Errorf("Expected %s in body, got %s", types.CodePIIBlocked, rec.Body.String())
	}
	if calls.Load() != 0 {
		t.Errorf("Upstream should not be called, got %d calls", calls.Load())
	}
}

func TestServer_RecordsEvidence(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)
	store := srv.parts.evidence.(*evstorage.MemoryStorage)

	chat(t, srv.Handler(), "", "hello")
	chat(t, srv.Handler(), "strict", "a@b.com")

	// Closing the recorder drains its queue; the store stays open until
	// Shutdown.
	if err := srv.parts.recorder.Close(); err != nil {
		t.Fatalf("recorder.Close() failed: %v", err)
	}
	records, err := store.Query(context.Background(), &evidence.Query{SortOrder: "asc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 evidence records, got %d", len(records))
	}
	outcomes := map[string]bool{}
	for _, r := range records {
		outcomes[r.Outcome] = true
	}
	if !outcomes[evidence.OutcomeServed] || !outcomes[evidence.OutcomeBlocked] {
		t.Errorf("Expected served and blocked outcomes, got %v", outcomes)
	}
}

func TestServer_Endpoints(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)
	chat(t, srv.Handler(), "", "hello")

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/health", http.StatusOK, `"version":"test"`},
		{"/ready", http.StatusOK, `"policies"`},
		{"/version", http.StatusOK, `"abc123"`},
		{"/metrics", http.StatusOK, "warden_requests_total"},
		{"/stats", http.StatusOK, `"pipeline"`},
		{"/v1/warden/stats", http.StatusOK, `"pipeline"`},
		{"/v1/warden/policies", http.StatusOK, `"strict"`},
		{"/v1/warden/policies/strict", http.StatusOK, "pii_detection"},
		{"/v1/warden/policies/missing", http.StatusNotFound, types.CodePolicyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %q, got %s", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	disabled := false
	cfg.Telemetry.Metrics.Enabled = &disabled
	srv := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	var calls atomic.Int64
	cfg := testConfig(t, upstream(t, &calls).URL)
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("Server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.IsRunning() {
		t.Error("Expected IsRunning() after Start")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if srv.IsRunning() {
		t.Error("Expected IsRunning() false after shutdown")
	}
}

func TestServer_RequestShutdown(t *testing.T) {
	var calls atomic.Int64
	srv := newTestServer(t, testConfig(t, upstream(t, &calls).URL))

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	for srv.Addr() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	srv.RequestShutdown()
	srv.RequestShutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after RequestShutdown")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad cache digest", func(c *config.Config) { c.Cache.Digest = "md5" }},
		{"missing policy file", func(c *config.Config) { c.Policy.Path = "/nonexistent/policies.yaml" }},
		{"unknown storage backend", func(c *config.Config) { c.Storage.Backend = "etcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			cfg := testConfig(t, upstream(t, &calls).URL)
			tt.mutate(cfg)
			if _, err := New(cfg, BuildInfo{}); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
