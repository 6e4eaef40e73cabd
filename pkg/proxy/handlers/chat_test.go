package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/limits"
	"mercator-hq/warden/pkg/limits/ratelimit"
	"mercator-hq/warden/pkg/pipeline"
	"mercator-hq/warden/pkg/policy/manager"
	"mercator-hq/warden/pkg/proxy"
	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/telemetry/logging"
)

type fakeProcessor struct {
	got  *pipeline.Request
	resp *pipeline.Response
	err  error
}

func (f *fakeProcessor) Process(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	f.got = req
	return f.resp, f.err
}

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

func post(h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChatHandler_Success(t *testing.T) {
	fp := &fakeProcessor{resp: &pipeline.Response{
		Body: &types.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []types.Choice{{
				Message: types.Message{Role: "assistant", Content: "hello"},
			}},
		},
		Governance: &types.Governance{
			Policy:         "team",
			RequestedModel: "gpt-4o",
			Model:          "gpt-4o-mini",
			RouteRule:      0,
			ActualCost:     0.0012,
		},
	}}
	h := NewChatHandler(fp, 0, pipeline.IdentityOptions{ClientIDHeader: "X-Warden-Client"})

	w := post(h, chatBody, map[string]string{
		proxy.PolicyHeader: "team",
		"X-Warden-Client":  "svc-a",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fp.got.PolicyName != "team" || fp.got.Client != "svc-a" || fp.got.Body.Model != "gpt-4o" {
		t.Errorf("Unexpected pipeline request: %+v", fp.got)
	}
	if got := w.Header().Get(proxy.HeaderModel); got != "gpt-4o-mini" {
		t.Errorf("Expected routed model header, got %q", got)
	}
	if got := w.Header().Get(proxy.HeaderCache); got != "MISS" {
		t.Errorf("Expected cache MISS header, got %q", got)
	}

	var body types.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ID != "chatcmpl-1" {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestChatHandler_ClientFromContext(t *testing.T) {
	fp := &fakeProcessor{resp: &pipeline.Response{Body: &types.ChatCompletionResponse{}}}
	h := NewChatHandler(fp, 0, pipeline.IdentityOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	ctx := logging.WithClient(logging.WithRequestID(req.Context(), "req-1"), "from-middleware")
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if fp.got.Client != "from-middleware" || fp.got.ID != "req-1" {
		t.Errorf("Expected identity from context, got %+v", fp.got)
	}
}

func TestChatHandler_Errors(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	tests := []struct {
		name   string
		method string
		body   string
		err    error
		status int
		code   string
	}{
		{"wrong method", http.MethodGet, "", nil, http.StatusBadRequest, "method_not_allowed"},
		{"malformed json", http.MethodPost, "{", nil, http.StatusBadRequest, ""},
		{"streaming", http.MethodPost, `{"model":"m","stream":true,"messages":[{"role":"user","content":"x"}]}`, nil, http.StatusBadRequest, types.CodeStreamingUnsupported},
		{
			"rate limited", http.MethodPost, chatBody,
			&pipeline.Violation{Kind: pipeline.KindRateLimited, Err: &ratelimit.ExceededError{Window: limits.Minute, Limit: 60, Reset: reset}},
			http.StatusTooManyRequests, types.CodeRateLimit,
		},
		{
			"store down", http.MethodPost, chatBody,
			&pipeline.Violation{Kind: pipeline.KindStoreUnavailable, Err: limits.ErrStoreUnavailable},
			http.StatusServiceUnavailable, types.CodeStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProcessor{err: tt.err}
			h := NewChatHandler(fp, 0, pipeline.IdentityOptions{})
			req := httptest.NewRequest(tt.method, "/v1/chat/completions", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
				t.Fatalf("Expected OpenAI error body: %v", err)
			}
			if tt.code != "" && er.Error.Code != tt.code {
				t.Errorf("Expected code %q, got %q", tt.code, er.Error.Code)
			}
			if tt.status == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After on 429")
			}
		})
	}
}

func TestChatHandler_CanceledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fp := &fakeProcessor{err: context.Canceled}
	h := NewChatHandler(fp, 0, pipeline.IdentityOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody)).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Body.Len() != 0 {
		t.Errorf("Expected no body for an abandoned request, got %s", w.Body.String())
	}
}

func TestChatHandler_BodyTooLarge(t *testing.T) {
	fp := &fakeProcessor{}
	h := NewChatHandler(fp, 16, pipeline.IdentityOptions{})
	w := post(h, chatBody, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
	if fp.got != nil {
		t.Error("Oversized body must not reach the pipeline")
	}
}

func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	m, err := manager.New(manager.Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStatsHandler(t *testing.T) {
	m := newManager(t)
	h := StatsHandler(StatsSources{
		Pipeline: func() pipeline.Stats { return pipeline.Stats{Requests: 7} },
		Policies: m,
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/warden/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var out StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Pipeline == nil || out.Pipeline.Requests != 7 {
		t.Errorf("Unexpected pipeline stats %+v", out.Pipeline)
	}
	if out.Cache != nil || out.Routing != nil {
		t.Error("Unset sources must be omitted")
	}
	if out.Policies == nil || len(out.Policies.Names) == 0 {
		t.Errorf("Expected policy summary, got %+v", out.Policies)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/warden/stats", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected POST refused, got %d", w.Code)
	}
}

func TestPoliciesHandler(t *testing.T) {
	m := newManager(t)
	h := PoliciesHandler(m)
	name := m.Snapshot().Names()[0]

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PoliciesPath, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), name) {
		t.Errorf("Expected list with %q, got %d %s", name, w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PoliciesPath+"/"+name, nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/yaml" {
		t.Errorf("Expected YAML policy, got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "name: "+name) {
		t.Errorf("Expected policy name in YAML, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, PoliciesPath+"/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
