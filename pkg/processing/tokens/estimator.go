package tokens

import (
	"math"
	"strings"

	"mercator-hq/warden/pkg/proxy/types"
)

// Estimator estimates token counts for requests.
type Estimator interface {
	// EstimateText estimates tokens for a single text string.
	EstimateText(text string, model string) int

	// EstimateRequest estimates prompt and completion tokens for a request.
	EstimateRequest(req *types.ChatCompletionRequest, model string) Estimate
}

// Estimate contains token estimation results.
type Estimate struct {
	// PromptTokens is the estimated number of tokens in the prompt.
	PromptTokens int

	// CompletionTokens is the expected completion length.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Config tunes the estimator.
type Config struct {
	// CharsPerToken maps a model name or prefix to its ratio. The
	// "default" entry applies to unknown models. Default ratio: 4.
	CharsPerToken map[string]float64

	// MessageOverhead is added per message. Default: 4
	MessageOverhead int

	// DefaultCompletion is used when max_tokens is unset. Default: 500
	DefaultCompletion int
}

// SimpleEstimator implements character-based token estimation.
// It is safe for concurrent use; its configuration is read-only.
type SimpleEstimator struct {
	config Config
}

// NewSimpleEstimator creates an estimator, filling in defaults.
func NewSimpleEstimator(cfg Config) *SimpleEstimator {
	if cfg.MessageOverhead == 0 {
		cfg.MessageOverhead = 4
	}
	if cfg.DefaultCompletion == 0 {
		cfg.DefaultCompletion = 500
	}
	return &SimpleEstimator{config: cfg}
}

// EstimateText estimates tokens for a single text string.
func (e *SimpleEstimator) EstimateText(text string, model string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / e.charsPerToken(model)))
}

// EstimateRequest estimates tokens for a complete request.
func (e *SimpleEstimator) EstimateRequest(req *types.ChatCompletionRequest, model string) Estimate {
	prompt := 0
	for i := range req.Messages {
		msg := &req.Messages[i]
		prompt += e.config.MessageOverhead
		prompt += e.EstimateText(msg.Role, model)
		prompt += e.EstimateText(msg.Text(), model)
		if msg.Name != "" {
			prompt += e.EstimateText(msg.Name, model)
		}
		for _, tc := range msg.ToolCalls {
			prompt += e.EstimateText(tc.Function.Name, model)
			prompt += e.EstimateText(tc.Function.Arguments, model)
		}
	}

	completion := e.config.DefaultCompletion
	if req.MaxTokens != nil {
		completion = *req.MaxTokens
	}

	return Estimate{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// charsPerToken resolves the ratio by exact name, then longest prefix,
// then "default".
func (e *SimpleEstimator) charsPerToken(model string) float64 {
	if ratio, ok := e.config.CharsPerToken[model]; ok && ratio > 0 {
		return ratio
	}

	best, bestLen := 0.0, 0
	for pattern, ratio := range e.config.CharsPerToken {
		if pattern != "default" && ratio > 0 && strings.HasPrefix(model, pattern) && len(pattern) > bestLen {
			best, bestLen = ratio, len(pattern)
		}
	}
	if bestLen > 0 {
		return best
	}

	if ratio, ok := e.config.CharsPerToken["default"]; ok && ratio > 0 {
		return ratio
	}
	return 4.0
}
