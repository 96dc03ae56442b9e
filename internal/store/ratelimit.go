package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
)

// The update reads the pre-update row in every SET expression, so
// last_allowed reflects the decision for this request.
const consumeRateLimitSQL = `
	INSERT INTO rate_limits (key, request_count, reset_at, last_allowed)
	VALUES (?, 1, ?, 1)
	ON CONFLICT(key) DO UPDATE SET
		request_count = CASE
			WHEN ? >= rate_limits.reset_at THEN 1
			WHEN rate_limits.request_count < ? THEN rate_limits.request_count + 1
			ELSE rate_limits.request_count
		END,
		reset_at = CASE
			WHEN ? >= rate_limits.reset_at THEN ?
			ELSE rate_limits.reset_at
		END,
		last_allowed = CASE
			WHEN ? >= rate_limits.reset_at THEN 1
			WHEN rate_limits.request_count < ? THEN 1
			ELSE 0
		END
	RETURNING request_count, reset_at, last_allowed
`

// RateLimitBackend persists limiter counters in the rate_limits table.
type RateLimitBackend struct {
	store *Store
}

// RateLimits returns the limiter backend for this store.
func (s *Store) RateLimits() *RateLimitBackend {
	return &RateLimitBackend{store: s}
}

// Consume implements ratelimit.Store in a single statement.
func (b *RateLimitBackend) Consume(ctx context.Context, key string, now time.Time, window time.Duration, max int) (ratelimit.Decision, error) {
	if b == nil || b.store == nil || b.store.DB == nil {
		return ratelimit.Decision{}, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return ratelimit.Decision{}, errors.New("rate limit key is required")
	}

	nowMs := now.UnixMilli()
	nextReset := nowMs + window.Milliseconds()

	var (
		count     int
		resetAt   int64
		lastAllow int
	)
	row := b.store.DB.QueryRowContext(ctx, consumeRateLimitSQL,
		key, nextReset,
		nowMs, max,
		nowMs, nextReset,
		nowMs, max,
	)
	if err := row.Scan(&count, &resetAt, &lastAllow); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("consume rate limit: %w", err)
	}

	resetIn := time.Duration(resetAt-nowMs) * time.Millisecond
	if resetIn < 0 {
		resetIn = 0
	}
	if lastAllow != 1 {
		return ratelimit.Decision{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
	}

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Decision{Allowed: true, Remaining: remaining, ResetIn: resetIn}, nil
}

// Ping checks the underlying database.
func (b *RateLimitBackend) Ping(ctx context.Context) error {
	if b == nil {
		return errors.New("store is not initialized")
	}
	return b.store.Ping(ctx)
}
