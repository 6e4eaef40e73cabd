package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript checks every cap, then applies every delta. It runs as a
// single Redis command, so a batch is atomic across all of its keys.
//
// ARGV holds three values per key: delta, limit (-1 = unlimited), ttl_ms.
// Returns {0, v1, v2, ...} on success or {1, index, current, limit} when a
// cap would be exceeded (index is 1-based).
const incrementScript = `
local n = #KEYS
for i = 1, n do
    local delta = tonumber(ARGV[(i - 1) * 3 + 1])
    local limit = tonumber(ARGV[(i - 1) * 3 + 2])
    if delta > 0 and limit >= 0 then
        local current = tonumber(redis.call('GET', KEYS[i]) or '0')
        if current + delta > limit then
            return {1, i, current, limit}
        end
    end
end

local out = {0}
for i = 1, n do
    local delta = tonumber(ARGV[(i - 1) * 3 + 1])
    local ttl = tonumber(ARGV[(i - 1) * 3 + 3])
    local exists = redis.call('EXISTS', KEYS[i]) == 1
    local current = tonumber(redis.call('GET', KEYS[i]) or '0')
    local value = 0
    if delta > 0 or exists then
        local target = current + delta
        if target < 0 then
            target = 0
        end
        value = redis.call('INCRBY', KEYS[i], target - current)
        if not exists and ttl > 0 then
            redis.call('PEXPIRE', KEYS[i], ttl)
        end
    end
    table.insert(out, value)
end
return out
`

// RedisStore implements Store on Redis.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// Address is host:port of the Redis server.
	Address string

	// Password is the optional AUTH password.
	Password string

	// DB is the database index.
	DB int

	// DialTimeout bounds connection setup.
	// Default: 2 seconds
	DialTimeout time.Duration

	// KeyPrefix is prepended to every key. Optional.
	KeyPrefix string
}

// NewRedisStore connects to Redis using cfg.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(incrementScript),
		prefix: prefix,
	}
}

// IncrementAll implements Store.
func (r *RedisStore) IncrementAll(ctx context.Context, ops []Increment) ([]int64, error) {
	if err := validateOps(ops); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ops))
	args := make([]interface{}, 0, len(ops)*3)
	for i, op := range ops {
		keys[i] = r.prefix + op.Key
		args = append(args, op.Delta, op.Limit, op.TTL.Milliseconds())
	}

	val, err := r.script.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return nil, unavailable("redis increment", err)
	}

	resultsSlice, ok := val.([]interface{})
	if !ok || len(resultsSlice) == 0 {
		return nil, fmt.Errorf("unexpected result type from redis script: %T", val)
	}

	if toInt64(resultsSlice[0]) == 1 {
		if len(resultsSlice) != 4 {
			return nil, fmt.Errorf("unexpected rejection length: %d", len(resultsSlice))
		}
		idx := int(toInt64(resultsSlice[1])) - 1
		if idx < 0 || idx >= len(ops) {
			return nil, fmt.Errorf("redis script reported invalid index %d", idx+1)
		}
		return nil, &LimitExceededError{
			Index:   idx,
			Key:     ops[idx].Key,
			Current: toInt64(resultsSlice[2]),
			Limit:   toInt64(resultsSlice[3]),
		}
	}

	if len(resultsSlice) != len(ops)+1 {
		return nil, fmt.Errorf("unexpected result length: got %d, want %d", len(resultsSlice), len(ops)+1)
	}

	results := make([]int64, len(ops))
	for i := range ops {
		results[i] = toInt64(resultsSlice[i+1])
	}
	return results, nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return b, true, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case float64:
		return int64(n)
	default:
		i, _ := strconv.ParseInt(fmt.Sprintf("%v", v), 10, 64)
		return i
	}
}
