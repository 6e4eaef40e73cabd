package cache

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/proxy/types"
)

// Entry is a cached response. It is immutable once written; the hit count
// lives in a separate counter.
type Entry struct {
	Response   json.RawMessage `json:"response"`
	Model      string          `json:"model"`
	CreatedAt  time.Time       `json:"created_at"`
	TTLSeconds int64           `json:"ttl_seconds"`

	// Hits is filled in at lookup.
	Hits int64 `json:"-"`
}

// NewEntry encodes resp into an entry created at now. Governance metadata
// is not cached.
func NewEntry(resp *types.ChatCompletionResponse, now time.Time, ttl time.Duration) (*Entry, error) {
	clean := *resp
	clean.Warden = nil
	raw, err := json.Marshal(&clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return &Entry{
		Response:   raw,
		Model:      resp.Model,
		CreatedAt:  now.UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}, nil
}

// ExpiresAt returns when the entry stops being served.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Decode returns the cached response.
func (e *Entry) Decode() (*types.ChatCompletionResponse, error) {
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(e.Response, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode cached response: %w", err)
	}
	return &resp, nil
}
