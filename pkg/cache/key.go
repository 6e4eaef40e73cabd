package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/zeebo/blake3"

	"mercator-hq/warden/pkg/proxy/types"
)

// KeyPrefix prefixes every cache key.
const KeyPrefix = "warden:cache:"

// Digest selects the hash used for cache keys.
type Digest string

const (
	DigestSHA256 Digest = "sha256"
	DigestBLAKE3 Digest = "blake3"
)

type canonicalMessage struct {
	Role       string           `json:"role"`
	Name       string           `json:"name,omitempty"`
	Content    interface{}      `json:"content"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// canonicalRequest fixes field order. Optional parameters are resolved to
// their provider defaults so an explicit default and an omitted field
// produce the same key.
type canonicalRequest struct {
	Model       string             `json:"model"`
	Messages    []canonicalMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	TopP        float64            `json:"top_p"`
	Stop        []string           `json:"stop,omitempty"`
	Tools       []types.Tool       `json:"tools,omitempty"`
	Seed        *int               `json:"seed,omitempty"`
}

func canonicalize(req *types.ChatCompletionRequest) canonicalRequest {
	c := canonicalRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    make([]canonicalMessage, len(req.Messages)),
		Temperature: 1.0,
		TopP:        1.0,
		Stop:        req.Stop,
		Tools:       req.Tools,
		Seed:        req.Seed,
	}
	if req.Temperature != nil {
		c.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		c.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		c.MaxTokens = *req.MaxTokens
	}

	for i, m := range req.Messages {
		c.Messages[i] = canonicalMessage{
			Role:       strings.ToLower(strings.TrimSpace(m.Role)),
			Name:       m.Name,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return c
}

// Keyer derives cache keys from requests.
type Keyer struct {
	digest Digest
}

// NewKeyer returns a keyer for the given digest. An empty digest selects
// SHA-256.
func NewKeyer(digest Digest) (*Keyer, error) {
	switch digest {
	case "":
		digest = DigestSHA256
	case DigestSHA256, DigestBLAKE3:
	default:
		return nil, fmt.Errorf("unknown cache digest %q", digest)
	}
	return &Keyer{digest: digest}, nil
}

// Key returns the cache key for req.
func (k *Keyer) Key(req *types.ChatCompletionRequest) (string, error) {
	data, err := json.Marshal(canonicalize(req))
	if err != nil {
		return "", fmt.Errorf("failed to encode canonical request: %w", err)
	}

	var sum [32]byte
	if k.digest == DigestBLAKE3 {
		sum = blake3.Sum256(data)
	} else {
		sum = sha256.Sum256(data)
	}
	return KeyPrefix + hex.EncodeToString(sum[:]), nil
}
