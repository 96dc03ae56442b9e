package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "scaffoldir:ratelimit"

// Keys: [1] counter hash
// Args: [1] now (unix ms), [2] window (ms), [3] max requests
// Returns: {allowed, count, reset_at (unix ms), fresh}
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local vals = redis.call("HMGET", key, "count", "reset_at")
local count = tonumber(vals[1])
local reset_at = tonumber(vals[2])

if count == nil or reset_at == nil or now >= reset_at then
    reset_at = now + window
    redis.call("HSET", key, "count", 1, "reset_at", reset_at)
    redis.call("PEXPIREAT", key, reset_at)
    return {1, 1, reset_at, 1}
end

if count < max then
    count = redis.call("HINCRBY", key, "count", 1)
    return {1, count, reset_at, 0}
end

return {0, count, reset_at, 0}
`)

// RedisStore shares counters between service instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume implements Store.
func (s *RedisStore) Consume(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	if s == nil || s.client == nil {
		return Decision{}, errors.New("redis store is not initialized")
	}

	nowMs := now.UnixMilli()
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.key(key)}, nowMs, window.Milliseconds(), max).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run fixed window script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 4 {
		return Decision{}, fmt.Errorf("unexpected fixed window reply: %v", res)
	}

	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	resetAt, _ := vals[2].(int64)
	fresh, _ := vals[3].(int64)

	if fresh == 1 {
		return Decision{Allowed: true, Remaining: max - 1, ResetIn: window}, nil
	}

	resetIn := time.UnixMilli(resetAt).Sub(now)
	if resetIn < 0 {
		resetIn = 0
	}
	if allowed != 1 {
		return Decision{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetIn: resetIn}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
