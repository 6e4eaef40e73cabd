package types

// ChatCompletionResponse represents an OpenAI-compatible chat completion
// response, extended with warden's governance metadata.
type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             Usage    `json:"usage"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`

	// Warden carries governance metadata. It is never forwarded upstream
	// and is stripped before a response is cached.
	Warden *Governance `json:"warden,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      Message     `json:"message"`
	FinishReason string      `json:"finish_reason"`
	LogProbs     interface{} `json:"logprobs,omitempty"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Governance describes what the gateway did with a request.
type Governance struct {
	// Policy is the name of the policy applied.
	Policy string `json:"policy"`

	// RequestedModel is the model the client asked for.
	RequestedModel string `json:"requested_model"`

	// Model is the model chosen by routing (or served from cache).
	Model string `json:"model"`

	// RouteRule is the index of the matching routing rule, or -1.
	RouteRule int `json:"route_rule"`

	// EstimatedCost is the pre-flight estimate in USD.
	EstimatedCost float64 `json:"estimated_cost"`

	// ActualCost is the committed cost in USD. Zero for cache hits.
	ActualCost float64 `json:"actual_cost"`

	// CacheHit reports whether the response came from the cache.
	CacheHit bool `json:"cache_hit"`

	// PII summarises findings on both sides of the exchange.
	PII PIISummary `json:"pii"`

	// RateLimit reports the tightest remaining quota, if rate limiting ran.
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`

	// RequestID correlates logs, traces, and audit records.
	RequestID string `json:"request_id,omitempty"`
}

// PIISummary counts PII findings. Raw values are never included.
type PIISummary struct {
	RequestFindings  int      `json:"request_findings"`
	ResponseFindings int      `json:"response_findings"`
	Types            []string `json:"types,omitempty"`
	Action           string   `json:"action,omitempty"`
}

// RateLimitInfo is the quota state reported back to clients.
type RateLimitInfo struct {
	Window    string `json:"window"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetUnix int64  `json:"reset"`
}
