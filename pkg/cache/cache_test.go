package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mercator-hq/warden/pkg/limits/storage"
	"mercator-hq/warden/pkg/proxy/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func baseRequest() *types.ChatCompletionRequest {
	return &types.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []types.Message{
			{Role: "system", Content: "You are terse."},
			{Role: "user", Content: "What is 2+2?"},
		},
	}
}

func testResponse() *types.ChatCompletionResponse {
	return &types.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: "4"},
			FinishReason: "stop",
		}},
		Usage: types.Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
	}
}

func TestKey_CanonicalEquality(t *testing.T) {
	keyer, err := NewKeyer("")
	if err != nil {
		t.Fatal(err)
	}

	base, err := keyer.Key(baseRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(base, KeyPrefix) || len(base) != len(KeyPrefix)+64 {
		t.Fatalf("Unexpected key format %q", base)
	}

	same := []struct {
		name   string
		mutate func(*types.ChatCompletionRequest)
	}{
		{"explicit default temperature", func(r *types.ChatCompletionRequest) { r.Temperature = floatPtr(1.0) }},
		{"explicit default top_p", func(r *types.ChatCompletionRequest) { r.TopP = floatPtr(1.0) }},
		{"user ignored", func(r *types.ChatCompletionRequest) { r.User = "alice" }},
		{"stream ignored", func(r *types.ChatCompletionRequest) { r.Stream = true }},
		{"role case", func(r *types.ChatCompletionRequest) { r.Messages[1].Role = "USER" }},
	}
	for _, tt := range same {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			got, err := keyer.Key(req)
			if err != nil {
				t.Fatal(err)
			}
			if got != base {
				t.Errorf("Expected same key, got %s vs %s", got, base)
			}
		})
	}

	different := []struct {
		name   string
		mutate func(*types.ChatCompletionRequest)
	}{
		{"model", func(r *types.ChatCompletionRequest) { r.Model = "gpt-4o" }},
		{"temperature", func(r *types.ChatCompletionRequest) { r.Temperature = floatPtr(0.2) }},
		{"max_tokens", func(r *types.ChatCompletionRequest) { r.MaxTokens = intPtr(50) }},
		{"content", func(r *types.ChatCompletionRequest) { r.Messages[1].Content = "What is 3+3?" }},
		{"message order", func(r *types.ChatCompletionRequest) {
			r.Messages[0], r.Messages[1] = r.Messages[1], r.Messages[0]
		}},
	}
	for _, tt := range different {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			got, err := keyer.Key(req)
			if err != nil {
				t.Fatal(err)
			}
			if got == base {
				t.Error("Expected a different key")
			}
		})
	}
}

func TestKey_BLAKE3(t *testing.T) {
	sha, _ := NewKeyer(DigestSHA256)
	b3, err := NewKeyer(DigestBLAKE3)
	if err != nil {
		t.Fatal(err)
	}

	k1, _ := sha.Key(baseRequest())
	k2, _ := b3.Key(baseRequest())
	k3, _ := b3.Key(baseRequest())
	if k1 == k2 {
		t.Error("Expected digests to differ")
	}
	if k2 != k3 || len(k2) != len(KeyPrefix)+64 {
		t.Errorf("Unexpected blake3 key %q", k2)
	}

	if _, err := NewKeyer("md5"); err == nil {
		t.Error("Expected unknown digest to be rejected")
	}
}

func newService(t *testing.T, backend Backend, clock *testClock) *Service {
	t.Helper()
	s, err := NewService(backend, Config{Clock: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestService_StoreAndLookup(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	mr := miniredis.RunT(t)
	store := storage.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { store.Close() })

	backends := map[string]Backend{
		"shared": NewStoreBackend(store),
		"local":  NewLocalBackend(0, time.Minute),
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			s := newService(t, backend, clock)
			ctx := context.Background()
			key, _ := s.Key(baseRequest())

			entry, err := s.Lookup(ctx, key)
			if err != nil || entry != nil {
				t.Fatalf("Expected miss, got %+v, %v", entry, err)
			}

			if err := s.Store(ctx, key, testResponse(), time.Hour); err != nil {
				t.Fatal(err)
			}

			for want := int64(1); want <= 2; want++ {
				entry, err = s.Lookup(ctx, key)
				if err != nil || entry == nil {
					t.Fatalf("Expected hit, got %+v, %v", entry, err)
				}
				if entry.Hits != want {
					t.Errorf("Expected hits %d, got %d", want, entry.Hits)
				}
			}
			resp, err := entry.Decode()
			if err != nil {
				t.Fatal(err)
			}
			if resp.Choices[0].Message.Text() != "4" || entry.Model != "gpt-4o-mini" || entry.TTLSeconds != 3600 {
				t.Errorf("Unexpected entry %+v", entry)
			}

			if err := s.Invalidate(ctx, key); err != nil {
				t.Fatal(err)
			}
			if entry, _ := s.Lookup(ctx, key); entry != nil {
				t.Error("Expected miss after invalidate")
			}

			st := s.Stats()
			if st.Hits != 2 || st.Misses != 2 || st.Sets != 1 || st.Deletes != 1 {
				t.Errorf("Unexpected stats %+v", st)
			}
		})
	}
}

func TestService_ExpiredEntryIsMiss(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	// The local backend's own expiry uses wall time, so the entry is
	// still present when the test clock passes its TTL.
	s := newService(t, NewLocalBackend(0, time.Minute), clock)
	ctx := context.Background()
	key, _ := s.Key(baseRequest())

	if err := s.Store(ctx, key, testResponse(), 30*time.Second); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Second)

	if entry, err := s.Lookup(ctx, key); err != nil || entry != nil {
		t.Errorf("Expected expired entry to miss, got %+v, %v", entry, err)
	}
}

func TestService_ZeroTTLDisablesWrite(t *testing.T) {
	clock := &testClock{now: time.Now()}
	backend := NewLocalBackend(0, time.Minute)
	s := newService(t, backend, clock)
	key, _ := s.Key(baseRequest())

	if err := s.Store(context.Background(), key, testResponse(), 0); err != nil {
		t.Fatal(err)
	}
	if backend.Used() != 0 || s.Stats().Sets != 0 {
		t.Error("Expected no write for zero TTL")
	}
}

func TestLocalBackend_Budget(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(10, time.Minute)

	if err := b.Set(ctx, "a", []byte("123456"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "b", []byte("123456"), time.Hour); !errors.Is(err, ErrOverBudget) {
		t.Fatalf("Expected ErrOverBudget, got %v", err)
	}
	if _, ok, _ := b.Get(ctx, "b"); ok {
		t.Error("Skipped write must not be stored")
	}

	// Replacing a key charges only the new value.
	if err := b.Set(ctx, "a", []byte("12345678"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if b.Used() != 8 {
		t.Errorf("Expected 8 bytes used, got %d", b.Used())
	}

	// Deleting returns bytes to the budget.
	if err := b.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if b.Used() != 0 {
		t.Errorf("Expected empty budget, got %d", b.Used())
	}
	if err := b.Set(ctx, "b", []byte("123456"), time.Hour); err != nil {
		t.Errorf("Expected write to fit after delete, got %v", err)
	}
}

func TestService_SkippedWriteIsNotAnError(t *testing.T) {
	clock := &testClock{now: time.Now()}
	s := newService(t, NewLocalBackend(16, time.Minute), clock)
	key, _ := s.Key(baseRequest())

	if err := s.Store(context.Background(), key, testResponse(), time.Hour); err != nil {
		t.Fatalf("Expected skipped write to succeed, got %v", err)
	}
	if st := s.Stats(); st.Skipped != 1 || st.Sets != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestService_BackendErrorIsCacheError(t *testing.T) {
	mr := miniredis.RunT(t)
	store := storage.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "")
	t.Cleanup(func() { store.Close() })
	mr.Close()

	s := newService(t, NewStoreBackend(store), &testClock{now: time.Now()})
	entry, err := s.Lookup(context.Background(), "warden:cache:x")
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Op != "lookup" {
		t.Fatalf("Expected *Error from lookup, got %v", err)
	}
	if entry != nil {
		t.Error("Expected no entry on error")
	}
	if s.Stats().Errors != 1 {
		t.Errorf("Expected one error counted, got %d", s.Stats().Errors)
	}
}
