package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Unlimited disables the cap check for an Increment.
const Unlimited int64 = -1

var (
	// ErrUnavailable is returned when the backing store cannot be reached
	// or does not answer within the operation deadline.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("storage closed")
)

// Store is the shared key-value store used for counters and cached values.
// Implementations must be safe for concurrent use.
type Store interface {
	// IncrementAll applies every increment atomically. If any positive
	// delta would push its counter above its Limit, nothing is applied and
	// a *LimitExceededError is returned. The returned slice holds the new
	// counter values in input order.
	IncrementAll(ctx context.Context, ops []Increment) ([]int64, error)

	// Get returns the value stored under key. The boolean is false if the
	// key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A zero ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Increment is a single counter mutation within an IncrementAll batch.
type Increment struct {
	// Key is the counter key.
	Key string

	// Delta is added to the counter. Negative deltas never create a key
	// and the result is floored at zero.
	Delta int64

	// Limit is the maximum value the counter may reach after a positive
	// delta. Use Unlimited to skip the check.
	Limit int64

	// TTL is applied when the key is created. Zero means no expiry.
	TTL time.Duration
}

// LimitExceededError reports the first increment in a batch that would
// have exceeded its limit.
type LimitExceededError struct {
	Index   int
	Key     string
	Current int64
	Limit   int64
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("counter %s at %d would exceed limit %d", e.Key, e.Current, e.Limit)
}

// wouldExceed reports whether applying op to current breaks its limit.
func wouldExceed(op Increment, current int64) bool {
	return op.Delta > 0 && op.Limit >= 0 && current+op.Delta > op.Limit
}

// applyDelta returns the new counter value, flooring negative results.
func applyDelta(current, delta int64) int64 {
	v := current + delta
	if v < 0 {
		return 0
	}
	return v
}

func validateOps(ops []Increment) error {
	for i, op := range ops {
		if op.Key == "" {
			return fmt.Errorf("increment %d: key cannot be empty", i)
		}
	}
	return nil
}

// unavailable wraps err so errors.Is(err, ErrUnavailable) holds.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Counter reads the counter stored under key without modifying it. An
// absent key reads as zero.
func Counter(ctx context.Context, s Store, key string) (int64, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, nil
}
