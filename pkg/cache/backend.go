package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"mercator-hq/warden/pkg/limits/storage"
)

// ErrOverBudget is returned by a backend that skipped a write because it
// would not fit in its size budget.
var ErrOverBudget = errors.New("cache size budget exceeded")

const hitsSuffix = ":hits"

// Backend holds encoded entries.
type Backend interface {
	// Get returns the value under key. The boolean is false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and its hit counter.
	Delete(ctx context.Context, key string) error

	// Hit increments the hit counter for key and returns the new count.
	Hit(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// StoreBackend keeps entries in the shared store so every replica sees
// them.
type StoreBackend struct {
	store storage.Store
}

// NewStoreBackend creates a backend over store.
func NewStoreBackend(store storage.Store) *StoreBackend {
	return &StoreBackend{store: store}
}

func (b *StoreBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return b.store.Get(ctx, key)
}

func (b *StoreBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.store.Set(ctx, key, value, ttl)
}

func (b *StoreBackend) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, key, key+hitsSuffix)
}

func (b *StoreBackend) Hit(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	values, err := b.store.IncrementAll(ctx, []storage.Increment{{
		Key:   key + hitsSuffix,
		Delta: 1,
		Limit: storage.Unlimited,
		TTL:   ttl,
	}})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// LocalBackend keeps entries in process within a byte budget. Hit
// counters are not charged against the budget.
type LocalBackend struct {
	cache    *gocache.Cache
	maxBytes int64
	used     atomic.Int64

	// setMu serialises writes so replacing an entry accounts for the old
	// value exactly once.
	setMu sync.Mutex
}

// NewLocalBackend creates a local backend. A maxBytes of zero or less
// means no budget.
func NewLocalBackend(maxBytes int64, cleanupInterval time.Duration) *LocalBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	b := &LocalBackend{
		cache:    gocache.New(gocache.NoExpiration, cleanupInterval),
		maxBytes: maxBytes,
	}
	b.cache.OnEvicted(func(_ string, v interface{}) {
		if data, ok := v.([]byte); ok {
			b.used.Add(-int64(len(data)))
		}
	})
	return b
}

// Used returns the bytes currently charged against the budget.
func (b *LocalBackend) Used() int64 {
	return b.used.Load()
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.setMu.Lock()
	defer b.setMu.Unlock()

	// Deleting first runs OnEvicted for any previous value.
	b.cache.Delete(key)

	size := int64(len(value))
	if b.maxBytes > 0 && b.used.Load()+size > b.maxBytes {
		return ErrOverBudget
	}
	b.used.Add(size)
	b.cache.Set(key, value, ttl)
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	b.cache.Delete(key)
	b.cache.Delete(key + hitsSuffix)
	return nil
}

func (b *LocalBackend) Hit(_ context.Context, key string, ttl time.Duration) (int64, error) {
	hk := key + hitsSuffix
	_ = b.cache.Add(hk, int64(0), ttl)
	n, err := b.cache.IncrementInt64(hk, 1)
	if err != nil {
		// Expired between Add and Increment.
		b.cache.Set(hk, int64(1), ttl)
		return 1, nil
	}
	return n, nil
}
