package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/proxy/types"
)

// Config configures a Service.
type Config struct {
	// Digest selects the key hash. Default: sha256
	Digest Digest

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// Stats holds cache counters for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Skipped int64   `json:"skipped"`
	Deletes int64   `json:"deletes"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Service is the response cache. It is safe for concurrent use.
type Service struct {
	backend Backend
	keyer   *Keyer
	now     func() time.Time
	logger  *slog.Logger

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	skipped atomic.Int64
	deletes atomic.Int64
	errs    atomic.Int64
}

// NewService creates a cache service over backend.
func NewService(backend Backend, cfg Config) (*Service, error) {
	keyer, err := NewKeyer(cfg.Digest)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		backend: backend,
		keyer:   keyer,
		now:     cfg.Clock,
		logger:  slog.Default().With("component", "cache"),
	}, nil
}

// Key returns the cache key for req.
func (s *Service) Key(req *types.ChatCompletionRequest) (string, error) {
	return s.keyer.Key(req)
}

// Lookup returns the live entry under key. A miss returns (nil, nil). A
// backend failure returns a *Error which callers treat as a miss.
func (s *Service) Lookup(ctx context.Context, key string) (*Entry, error) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, s.fail("lookup", key, err)
	}
	if !ok {
		s.misses.Add(1)
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is dropped and counted as a miss.
		s.logger.Warn("Discarding undecodable cache entry", "key", key, "error", err)
		_ = s.backend.Delete(ctx, key)
		s.misses.Add(1)
		return nil, nil
	}

	now := s.now()
	if entry.Expired(now) {
		s.misses.Add(1)
		return nil, nil
	}

	hits, err := s.backend.Hit(ctx, key, entry.ExpiresAt().Sub(now))
	if err != nil {
		s.logger.Debug("Failed to count cache hit", "key", key, "error", err)
	}
	entry.Hits = hits
	s.hits.Add(1)
	return &entry, nil
}

// Store writes resp under key for ttl. A ttl of zero or less disables the
// write. A write that does not fit the backend budget is skipped silently.
func (s *Service) Store(ctx context.Context, key string, resp *types.ChatCompletionResponse, ttl time.Duration) error {
	if ttl <= 0 || resp == nil {
		return nil
	}

	entry, err := NewEntry(resp, s.now(), ttl)
	if err != nil {
		return s.fail("store", key, err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return s.fail("store", key, err)
	}

	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		if errors.Is(err, ErrOverBudget) {
			s.skipped.Add(1)
			s.logger.Debug("Cache write skipped, size budget exhausted", "key", key, "bytes", len(data))
			return nil
		}
		return s.fail("store", key, err)
	}
	s.sets.Add(1)
	return nil
}

// Invalidate removes the entry under key.
func (s *Service) Invalidate(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return s.fail("invalidate", key, err)
	}
	s.deletes.Add(1)
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	st := Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Skipped: s.skipped.Load(),
		Deletes: s.deletes.Load(),
		Errors:  s.errs.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

func (s *Service) fail(op, key string, err error) error {
	s.errs.Add(1)
	s.logger.Warn("Cache operation failed", "op", op, "key", key, "error", err)
	return &Error{Op: op, Key: key, Err: err}
}
