// Package ratelimit implements a per-key fixed-window request counter.
//
// A Limiter is constructed explicitly and handed to the code that guards a
// sensitive operation (for example OTP issuance). Decisions are computed by a
// Store, which performs the read-modify-write for one key atomically:
// MemoryStore for a single process, RedisStore when several instances must
// share quotas, and the libsql store in internal/store for persisted state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig marks programmer errors such as a non-positive window.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Entry is the counter state for one key.
type Entry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Decision is the outcome of a single CheckAndConsume call.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// ResetInMs returns ResetIn in whole milliseconds, rounded up and never negative.
func (d Decision) ResetInMs() int64 {
	return ceilDiv(d.ResetIn, time.Millisecond)
}

// RetryAfterSeconds returns ResetIn in whole seconds, rounded up, for Retry-After headers.
func (d Decision) RetryAfterSeconds() int64 {
	return ceilDiv(d.ResetIn, time.Second)
}

// Store performs the atomic check-and-consume for one key.
type Store interface {
	Consume(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error)
}

// Logger is the subset of the structured logger the limiter uses.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
}

// Limiter applies fixed-window limits through a Store.
type Limiter struct {
	Store  Store
	Clock  func() time.Time
	Logger Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.Clock = clock }
}

// WithLogger sets the logger used for denied decisions.
func WithLogger(logger Logger) Option {
	return func(l *Limiter) { l.Logger = logger }
}

// New creates a Limiter. A nil store falls back to a fresh MemoryStore.
func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{Store: store}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume records a request for key and reports whether it fits in
// the current window of length window allowing at most max requests.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if err := Validate(window, max); err != nil {
		return Decision{}, err
	}
	if l == nil || l.Store == nil {
		return Decision{}, fmt.Errorf("%w: limiter store is not configured", ErrInvalidConfig)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{}, fmt.Errorf("%w: key is required", ErrInvalidConfig)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	decision, err := l.Store.Consume(ctx, key, l.now(), window, max)
	if err != nil {
		return Decision{}, fmt.Errorf("consume rate limit %s: %w", key, err)
	}
	if decision.ResetIn < 0 {
		decision.ResetIn = 0
	}

	if !decision.Allowed && l.Logger != nil {
		l.Logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Duration("reset_in", decision.ResetIn),
			zap.Int("max", max))
	}

	return decision, nil
}

// Validate checks limiter parameters.
func Validate(window time.Duration, max int) error {
	if window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got: %s", ErrInvalidConfig, window)
	}
	if max <= 0 {
		return fmt.Errorf("%w: max requests must be > 0, got: %d", ErrInvalidConfig, max)
	}
	return nil
}

// Apply computes the next entry and the decision for one request at now.
// found reports whether entry was present in the store.
func Apply(entry Entry, found bool, now time.Time, window time.Duration, max int) (Entry, Decision) {
	if !found || !now.Before(entry.ResetAt) {
		next := Entry{Count: 1, ResetAt: now.Add(window)}
		return next, Decision{Allowed: true, Remaining: max - 1, ResetIn: window}
	}

	resetIn := entry.ResetAt.Sub(now)
	if entry.Count < max {
		entry.Count++
		return entry, Decision{Allowed: true, Remaining: max - entry.Count, ResetIn: resetIn}
	}

	return entry, Decision{Allowed: false, Remaining: 0, ResetIn: resetIn}
}

// Key builds the conventional "<operation>:<client>" key.
func Key(operation, client string) string {
	return strings.TrimSpace(operation) + ":" + strings.TrimSpace(client)
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func ceilDiv(d, unit time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + unit - 1) / unit)
}
