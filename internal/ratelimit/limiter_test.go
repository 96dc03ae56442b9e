package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func newTestLimiter(clock *fakeClock) *Limiter {
	return New(NewMemoryStore(), WithClock(clock.Now))
}

func TestCheckAndConsumeWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		clock.Set(time.Duration(i) * 10 * time.Second)
		decision, err := limiter.CheckAndConsume(ctx, "otp:1.2.3.4", time.Minute, 5)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "call %d should be allowed", i+1)
		require.Equal(t, 5-(i+1), decision.Remaining)
	}

	for _, offset := range []time.Duration{50 * time.Second, 59 * time.Second, 59999 * time.Millisecond} {
		clock.Set(offset)
		decision, err := limiter.CheckAndConsume(ctx, "otp:1.2.3.4", time.Minute, 5)
		require.NoError(t, err)
		require.False(t, decision.Allowed)
		require.Equal(t, 0, decision.Remaining)
	}
}

func TestCheckAndConsumeFirstCall(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	decision, err := limiter.CheckAndConsume(context.Background(), "otp:a", time.Minute, 5)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.Remaining)
	assert.Equal(t, time.Minute, decision.ResetIn)
	assert.Equal(t, int64(60000), decision.ResetInMs())
}

func TestCheckAndConsumeRollover(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		decision, err := limiter.CheckAndConsume(ctx, "otp:x", time.Minute, 5)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	clock.Set(59999 * time.Millisecond)
	decision, err := limiter.CheckAndConsume(ctx, "otp:x", time.Minute, 5)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, time.Millisecond, decision.ResetIn)
	require.Equal(t, int64(1), decision.ResetInMs())

	clock.Set(60001 * time.Millisecond)
	decision, err = limiter.CheckAndConsume(ctx, "otp:x", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, 4, decision.Remaining)
	require.Equal(t, time.Minute, decision.ResetIn)
}

func TestCheckAndConsumeRolloverAtExactReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	_, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 1)
	require.NoError(t, err)

	clock.Set(time.Minute)
	decision, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, decision.Allowed, "now == reset time starts a new window")
	require.Equal(t, 0, decision.Remaining)
}

func TestCheckAndConsumeIndependentKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < 3; i++ {
		_, err := limiter.CheckAndConsume(ctx, "otp:A", time.Minute, 3)
		require.NoError(t, err)
	}
	denied, err := limiter.CheckAndConsume(ctx, "otp:A", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	other, err := limiter.CheckAndConsume(ctx, "otp:B", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, other.Allowed)
	require.Equal(t, 2, other.Remaining)
}

func TestDeniedCallsDoNotIncrement(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	limiter := New(store, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		_, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 2)
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		clock.Set(time.Duration(i) * time.Second)
		decision, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 2)
		require.NoError(t, err)
		require.False(t, decision.Allowed)
		require.Equal(t, 0, decision.Remaining)
	}

	entry, ok := store.Get("k", clock.Now())
	require.True(t, ok)
	require.Equal(t, 2, entry.Count)
}

func TestOTPScenario(t *testing.T) {
	limiter := New(NewMemoryStore())

	var allowed []bool
	var last Decision
	for i := 0; i < 6; i++ {
		decision, err := limiter.CheckAndConsume(context.Background(), Key("otp", "1.2.3.4"), 60000*time.Millisecond, 5)
		require.NoError(t, err)
		allowed = append(allowed, decision.Allowed)
		last = decision
	}

	require.Equal(t, []bool{true, true, true, true, true, false}, allowed)
	require.LessOrEqual(t, last.ResetInMs(), int64(60000))
}

func TestCheckAndConsumeInvalidConfig(t *testing.T) {
	limiter := New(nil)

	_, err := limiter.CheckAndConsume(context.Background(), "k", 0, 5)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = limiter.CheckAndConsume(context.Background(), "k", -time.Second, 5)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = limiter.CheckAndConsume(context.Background(), "k", time.Minute, 0)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = limiter.CheckAndConsume(context.Background(), "  ", time.Minute, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)

	var nilLimiter *Limiter
	_, err = nilLimiter.CheckAndConsume(context.Background(), "k", time.Minute, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCheckAndConsumeConcurrentLastSlot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < 4; i++ {
		_, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 5)
		require.NoError(t, err)
	}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.CheckAndConsume(ctx, "k", time.Minute, 5)
			if err == nil && decision.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), admitted.Load())
}

func TestApply(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)

	tests := []struct {
		name      string
		entry     Entry
		found     bool
		wantCount int
		want      Decision
	}{
		{
			name:      "absent",
			wantCount: 1,
			want:      Decision{Allowed: true, Remaining: 2, ResetIn: time.Minute},
		},
		{
			name:      "expired",
			entry:     Entry{Count: 3, ResetAt: now.Add(-time.Second)},
			found:     true,
			wantCount: 1,
			want:      Decision{Allowed: true, Remaining: 2, ResetIn: time.Minute},
		},
		{
			name:      "open with room",
			entry:     Entry{Count: 1, ResetAt: now.Add(20 * time.Second)},
			found:     true,
			wantCount: 2,
			want:      Decision{Allowed: true, Remaining: 1, ResetIn: 20 * time.Second},
		},
		{
			name:      "open and full",
			entry:     Entry{Count: 3, ResetAt: now.Add(5 * time.Second)},
			found:     true,
			wantCount: 3,
			want:      Decision{Allowed: false, Remaining: 0, ResetIn: 5 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, decision := Apply(tt.entry, tt.found, now, time.Minute, 3)
			assert.Equal(t, tt.wantCount, next.Count)
			assert.Equal(t, tt.want, decision)
		})
	}
}

func TestDecisionRounding(t *testing.T) {
	d := Decision{ResetIn: 1500 * time.Microsecond}
	assert.Equal(t, int64(2), d.ResetInMs())
	assert.Equal(t, int64(1), d.RetryAfterSeconds())

	d = Decision{ResetIn: -time.Second}
	assert.Equal(t, int64(0), d.ResetInMs())
	assert.Equal(t, int64(0), d.RetryAfterSeconds())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "otp:1.2.3.4", Key("otp", " 1.2.3.4 "))
}
