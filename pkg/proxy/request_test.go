package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/proxy/types"
)

func TestParseChatCompletionRequest(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		max    int64
		code   string
		param  string
		status int
	}{
		{name: "valid", body: `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`},
		{name: "invalid json", body: `{"model":`, code: types.CodeInvalidJSON, param: "body"},
		{name: "missing model", body: `{"messages":[{"role":"user","content":"hi"}]}`, code: types.CodeInvalidValue, param: "model"},
		{name: "no messages", body: `{"model":"gpt-4o","messages":[]}`, code: types.CodeInvalidValue, param: "messages"},
		{name: "bad temperature", body: `{"model":"m","messages":[{"role":"user","content":"x"}],"temperature":3}`, code: types.CodeInvalidValue, param: "temperature"},
		{name: "streaming", body: `{"model":"m","stream":true,"messages":[{"role":"user","content":"x"}]}`, code: types.CodeStreamingUnsupported, param: "stream"},
		{name: "too large", body: `{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`, max: 16, code: types.CodeRequestTooLarge, param: "body", status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(tt.body))
			req, err := ParseChatCompletionRequest(r, tt.max)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if req.Model != "gpt-4o" || len(req.Messages) != 1 {
					t.Errorf("Unexpected request %+v", req)
				}
				return
			}

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("Expected *RequestError, got %v", err)
			}
			if reqErr.Code != tt.code || reqErr.Param != tt.param || reqErr.Status != tt.status {
				t.Errorf("Unexpected error %+v", reqErr)
			}
		})
	}
}

func TestParseChatCompletionRequest_ExactLimit(t *testing.T) {
	body := `{"model":"m","messages":[{"role":"user","content":"x"}]}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if _, err := ParseChatCompletionRequest(r, int64(len(body))); err != nil {
		t.Errorf("Body at the limit should parse, got %v", err)
	}
}
