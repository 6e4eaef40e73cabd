package types

import (
	"fmt"
	"strings"
)

// ChatCompletionRequest represents an OpenAI-compatible chat completion request.
type ChatCompletionRequest struct {
	// Model is the ID of the requested model. Routing may replace it.
	Model string `json:"model"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Temperature controls randomness (0.0 to 2.0). Defaults to 1.0.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0). Defaults to 1.0.
	TopP *float64 `json:"top_p,omitempty"`

	N      *int     `json:"n,omitempty"`
	Stream bool     `json:"stream,omitempty"`
	Stop   []string `json:"stop,omitempty"`

	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`

	// User is an end-user identifier. It does not affect caching.
	User string `json:"user,omitempty"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice interface{} `json:"tool_choice,omitempty"`
	Seed       *int        `json:"seed,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is a string or an array of content parts.
	Content interface{} `json:"content"`

	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool represents a function the model can call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall represents a function call made by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds a function name and its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Text returns the textual content of the message. For multi-part content
// the text parts are joined with a space; non-text parts are skipped.
func (m *Message) Text() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []interface{}:
		var parts []string
		for _, part := range c {
			if pm, ok := part.(map[string]interface{}); ok && pm["type"] == "text" {
				if text, ok := pm["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", c)
	}
}

// MapText replaces every text segment of the message with fn(segment).
// String content and the text parts of multi-part content are rewritten;
// other parts are preserved. The receiver's content is replaced with a
// copy, so the original value is never mutated in place.
func (m *Message) MapText(fn func(string) string) {
	switch c := m.Content.(type) {
	case string:
		m.Content = fn(c)
	case []interface{}:
		out := make([]interface{}, len(c))
		for i, part := range c {
			pm, ok := part.(map[string]interface{})
			if !ok || pm["type"] != "text" {
				out[i] = part
				continue
			}
			cp := make(map[string]interface{}, len(pm))
			for k, v := range pm {
				cp[k] = v
			}
			if text, ok := pm["text"].(string); ok {
				cp["text"] = fn(text)
			}
			out[i] = cp
		}
		m.Content = out
	}
}

// Clone returns a copy of the request whose message slice can be modified
// without affecting r.
func (r *ChatCompletionRequest) Clone() *ChatCompletionRequest {
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	return &cp
}

// Validate checks required fields and value ranges.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Field: "model", Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "messages must contain at least one message"}
	}
	if r.Temperature != nil && (*r.Temperature < 0.0 || *r.Temperature > 2.0) {
		return &ValidationError{Field: "temperature", Message: "temperature must be between 0.0 and 2.0"}
	}
	if r.TopP != nil && (*r.TopP < 0.0 || *r.TopP > 1.0) {
		return &ValidationError{Field: "top_p", Message: "top_p must be between 0.0 and 1.0"}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return &ValidationError{Field: "max_tokens", Message: "max_tokens must be greater than 0"}
	}
	if r.N != nil && *r.N < 1 {
		return &ValidationError{Field: "n", Message: "n must be greater than 0"}
	}
	if len(r.Stop) > 4 {
		return &ValidationError{Field: "stop", Message: "stop sequences must not exceed 4"}
	}

	for i, msg := range r.Messages {
		if msg.Role == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: "message role is required",
			}
		}
		if msg.Content == nil && len(msg.ToolCalls) == 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: "message content is required when no tool_calls present",
			}
		}
	}

	return nil
}

// ValidationError represents a request validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}
