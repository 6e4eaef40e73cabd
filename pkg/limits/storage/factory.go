package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is "memory", "redis", or "sqlite".
	Backend string

	// OperationTimeout bounds every call made through the returned store.
	// Zero disables the bound.
	OperationTimeout time.Duration

	Redis  RedisStoreConfig
	SQLite SQLiteStoreConfig
}

// New creates the backend named by cfg.Backend, wrapped with the
// configured operation timeout.
func New(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case "", "memory":
		s = NewMemoryStore()
	case "redis":
		s, err = NewRedisStore(cfg.Redis)
	case "sqlite":
		s, err = NewSQLiteStoreWithConfig(cfg.SQLite)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Backend, err)
	}

	return WithTimeout(s, cfg.OperationTimeout), nil
}

// WithTimeout bounds every call on s by d. A call that runs past the
// deadline fails with ErrUnavailable. A zero d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{inner: s, timeout: d}
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

func (t *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

// classify maps a deadline hit by our own bound to ErrUnavailable while
// leaving caller cancellation intact.
func (t *timeoutStore) classify(parent context.Context, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return unavailable("storage timeout", err)
	}
	return err
}

func (t *timeoutStore) IncrementAll(ctx context.Context, ops []Increment) ([]int64, error) {
	c, cancel := t.bound(ctx)
	defer cancel()
	v, err := t.inner.IncrementAll(c, ops)
	return v, t.classify(ctx, err)
}

func (t *timeoutStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c, cancel := t.bound(ctx)
	defer cancel()
	v, ok, err := t.inner.Get(c, key)
	return v, ok, t.classify(ctx, err)
}

func (t *timeoutStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c, cancel := t.bound(ctx)
	defer cancel()
	return t.classify(ctx, t.inner.Set(c, key, value, ttl))
}

func (t *timeoutStore) Delete(ctx context.Context, keys ...string) error {
	c, cancel := t.bound(ctx)
	defer cancel()
	return t.classify(ctx, t.inner.Delete(c, keys...))
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	c, cancel := t.bound(ctx)
	defer cancel()
	return t.classify(ctx, t.inner.Ping(c))
}

func (t *timeoutStore) Close() error {
	return t.inner.Close()
}
