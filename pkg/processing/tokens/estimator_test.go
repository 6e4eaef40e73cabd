package tokens

import (
	"testing"

	"mercator-hq/warden/pkg/proxy/types"
)

func intPtr(i int) *int { return &i }

func TestSimpleEstimator_EstimateText(t *testing.T) {
	e := NewSimpleEstimator(Config{CharsPerToken: map[string]float64{"claude": 3.5}})

	tests := []struct {
		text  string
		model string
		want  int
	}{
		{"", "gpt-4o", 0},
		{"a", "gpt-4o", 1},
		{"abcd", "gpt-4o", 1},
		{"abcde", "gpt-4o", 2},
		{"abcdefg", "claude-3-haiku", 2},
	}

	for _, tt := range tests {
		if got := e.EstimateText(tt.text, tt.model); got != tt.want {
			t.Errorf("EstimateText(%q, %q) = %d, want %d", tt.text, tt.model, got, tt.want)
		}
	}
}

func TestSimpleEstimator_EstimateRequest(t *testing.T) {
	e := NewSimpleEstimator(Config{})

	req := &types.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []types.Message{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "Hello there"},
		},
	}

	// system: 4 + ceil(6/4)=2 + ceil(9/4)=3 = 9
	// user:   4 + ceil(4/4)=1 + ceil(11/4)=3 = 8
	est := e.EstimateRequest(req, req.Model)
	if est.PromptTokens != 17 {
		t.Errorf("Expected 17 prompt tokens, got %d", est.PromptTokens)
	}
	if est.CompletionTokens != 500 {
		t.Errorf("Expected default 500 completion tokens, got %d", est.CompletionTokens)
	}
	if est.TotalTokens != 517 {
		t.Errorf("Expected 517 total tokens, got %d", est.TotalTokens)
	}

	req.MaxTokens = intPtr(50)
	if est := e.EstimateRequest(req, req.Model); est.CompletionTokens != 50 {
		t.Errorf("Expected max_tokens to bound completion, got %d", est.CompletionTokens)
	}
}

func TestSimpleEstimator_MultipartContent(t *testing.T) {
	e := NewSimpleEstimator(Config{})
	req := &types.ChatCompletionRequest{
		Messages: []types.Message{{
			Role: "user",
			Content: []interface{}{
				map[string]interface{}{"type": "text", "text": "abcd"},
				map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": "x"}},
			},
		}},
	}
	// 4 + ceil(4/4)=1 + ceil(4/4)=1
	if got := e.EstimateRequest(req, "gpt-4o").PromptTokens; got != 6 {
		t.Errorf("Expected 6 prompt tokens, got %d", got)
	}
}
