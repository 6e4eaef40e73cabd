package condition

import (
	"errors"
	"testing"
)

func TestParse_Eval(t *testing.T) {
	facts := Facts{
		Model:             "gpt-4o",
		MaxTokens:         50,
		HasMaxTokens:      true,
		Tokens:            120,
		MessageCount:      3,
		ContentLength:     480,
		LastMessageLength: 40,
		Content:           "Please Translate this text",
		LastMessage:       "Translate this text",
	}

	tests := []struct {
		cond string
		want bool
	}{
		{"default", true},
		{"DEFAULT", true},
		{"request.max_tokens < 100", true},
		{"max_tokens >= 100", false},
		{"request.tokens > 100", true},
		{"request.message_count == 3", true},
		{"request.message_count != 3", false},
		{"request.content_length <= 480", true},
		{"request.last_message_length > 40", false},
		{`request.model == "gpt-4o"`, true},
		{`request.model != 'gpt-4o'`, false},
		{`request.content contains "translate"`, true},
		{`request.last_message startswith "translate"`, true},
		{`request.last_message endswith "code"`, false},
		{`request.last_message startswith "TRANSLATE"`, true},
		{`request.last_message endswith "TEXT"`, true},
		{`request.last_message startswith "text"`, false},
		{`request.max_tokens < 100 and request.model == "gpt-4o"`, true},
		{`request.max_tokens > 100 or request.message_count == 3`, true},
		{`request.max_tokens > 100 or request.tokens < 10 and request.model == "x"`, false},
		{`request.max_tokens < 100 and request.tokens < 10 or request.model == "gpt-4o"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			c, err := Parse(tt.cond)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.cond, err)
			}
			if got := c.Eval(facts); got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestEval_MissingMaxTokens(t *testing.T) {
	c := MustParse("request.max_tokens < 100")
	if c.Eval(Facts{}) {
		t.Error("Comparison on absent max_tokens must be false")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"",
		"request.max_tokens",
		"request.max_tokens < ",
		"request.unknown < 10",
		"request.max_tokens = 10",
		`request.max_tokens contains "1"`,
		`request.model < "a"`,
		"request.model == gpt",
		`request.content contains "unterminated`,
		"default and request.tokens > 1",
		"request.tokens > 1 default",
		"__import__('os').system('rm -rf /')",
		"request.tokens > 1; drop",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Fatalf("Expected Parse(%q) to fail", input)
			}
			var syn *SyntaxError
			if !errors.As(err, &syn) {
				t.Errorf("Expected *SyntaxError, got %T", err)
			}
		})
	}
}

func TestCondition_String(t *testing.T) {
	c := MustParse(`max_tokens < 100 and content contains "hi"`)
	want := `request.max_tokens < 100 and request.content contains "hi"`
	if c.String() != want {
		t.Errorf("Expected %q, got %q", want, c.String())
	}
	if c.IsDefault() {
		t.Error("Expected non-default condition")
	}
	if !MustParse("default").IsDefault() {
		t.Error("Expected default condition")
	}
}
