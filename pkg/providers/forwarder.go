package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/proxy/types"
	"mercator-hq/warden/pkg/telemetry/tracing"
)

// unhealthyAfter is the number of consecutive failures that marks the
// upstream unhealthy.
const unhealthyAfter = 3

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Config configures an HTTPForwarder.
type Config struct {
	// Name identifies the upstream in logs and errors. Default: "upstream"
	Name string

	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds each HTTP attempt. The pipeline applies its own
	// deadline through the context. Default: 0 (none)
	Timeout time.Duration

	// MaxRetries is how many times a retryable failure is retried.
	// Default: 0
	MaxRetries int

	// RetryBackoff is the base delay, doubled per attempt. Default: 500ms
	RetryBackoff time.Duration

	// Connection pool settings.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "upstream"
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 100
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 10
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
}

// Health is the passive health of the upstream.
type Health struct {
	Healthy               bool      `json:"healthy"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	LastError             string    `json:"last_error,omitempty"`
	LastSuccessfulRequest time.Time `json:"last_successful_request,omitempty"`
	TotalRequests         int64     `json:"total_requests"`
	FailedRequests        int64     `json:"failed_requests"`
}

// HTTPForwarder posts chat completion requests to an OpenAI-compatible
// API. It is safe for concurrent use.
type HTTPForwarder struct {
	cfg      Config
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu     sync.RWMutex
	health Health
}

// NewHTTPForwarder creates a forwarder with a pooled HTTP client.
func NewHTTPForwarder(cfg Config) (*HTTPForwarder, error) {
	if cfg.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	cfg.applyDefaults()

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPForwarder{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		client:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:   slog.Default().With("component", "providers", "provider", cfg.Name),
		health:   Health{Healthy: true},
	}, nil
}

// Name returns the configured upstream name.
func (f *HTTPForwarder) Name() string {
	return f.cfg.Name
}

// Forward sends req upstream and decodes the completion. Streaming is
// never requested.
func (f *HTTPForwarder) Forward(ctx context.Context, req *types.ChatCompletionRequest) (*types.ChatCompletionResponse, error) {
	out := *req
	out.Stream = false
	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	raw, err := f.do(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		uerr := &UpstreamError{Provider: f.cfg.Name, StatusCode: http.StatusOK, Message: "malformed response", Err: err}
		f.record(false, uerr)
		return nil, uerr
	}
	// Never trust governance metadata from upstream.
	resp.Warden = nil
	return &resp, nil
}

func (f *HTTPForwarder) do(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * f.cfg.RetryBackoff
			f.logger.Debug("Retrying upstream request",
				"attempt", attempt,
				"max_retries", f.cfg.MaxRetries,
				"backoff", backoff,
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("forward: %w", ctx.Err())
			case <-timer.C:
			}
		}

		raw, err := f.attempt(ctx, body)
		if err == nil {
			f.record(true, nil)
			return raw, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller gave up; this says nothing about upstream health.
			return nil, fmt.Errorf("forward: %w", ctxErr)
		}

		f.record(false, err)
		lastErr = err
		var uerr *UpstreamError
		if !errors.As(err, &uerr) || !uerr.Retryable() {
			return nil, err
		}
		f.logger.Warn("Upstream request failed",
			"attempt", attempt+1,
			"status", uerr.StatusCode,
			"error", err,
		)
	}
	return nil, lastErr
}

func (f *HTTPForwarder) attempt(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: f.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &UpstreamError{Provider: f.cfg.Name, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		}
		if len(raw) == 0 {
			return nil, &UpstreamError{Provider: f.cfg.Name, StatusCode: resp.StatusCode, Message: "empty body"}
		}
		return raw, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	uerr := &UpstreamError{
		Provider:   f.cfg.Name,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(raw),
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		uerr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return nil, uerr
}

// errorMessage extracts the message of an OpenAI-style error body, falling
// back to the trimmed raw text.
func errorMessage(raw []byte) string {
	var er types.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

func (f *HTTPForwarder) record(success bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.health.TotalRequests++
	if success {
		f.health.Healthy = true
		f.health.ConsecutiveFailures = 0
		f.health.LastError = ""
		f.health.LastSuccessfulRequest = time.Now()
		return
	}

	f.health.FailedRequests++
	f.health.ConsecutiveFailures++
	f.health.LastError = err.Error()
	if f.health.ConsecutiveFailures >= unhealthyAfter && f.health.Healthy {
		f.health.Healthy = false
		f.logger.Warn("Upstream marked unhealthy",
			"consecutive_failures", f.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

// Health returns a snapshot of the upstream's passive health.
func (f *HTTPForwarder) Health() Health {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.health
}

// CheckHealth returns an error when the upstream is marked unhealthy. It
// has the signature of a health checker function.
func (f *HTTPForwarder) CheckHealth(context.Context) error {
	h := f.Health()
	if h.Healthy {
		return nil
	}
	return fmt.Errorf("upstream %q unhealthy after %d consecutive failures: %s", f.cfg.Name, h.ConsecutiveFailures, h.LastError)
}

// Close releases idle connections.
func (f *HTTPForwarder) Close() error {
	f.client.CloseIdleConnections()
	f.logger.Info("Upstream forwarder closed")
	return nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
