package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds per-endpoint circuit breaker configuration.
type BreakerConfig struct {
	MaxRequests   uint32        // Max probes in half-open state
	Interval      time.Duration // Counting interval for failures
	Timeout       time.Duration // Open duration before half-open
	Threshold     uint32        // Consecutive failures before opening
	OnStateChange func(endpoint string, from, to string)
}

// DefaultBreakerConfig returns defaults suited to slow public mirrors.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
		Threshold:   3,
	}
}

// Breakers keeps one circuit breaker per endpoint.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewBreakers creates an empty breaker set.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultBreakerConfig().Threshold
	}
	return &Breakers{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// State returns the breaker state for endpoint ("closed" when unknown).
func (b *Breakers) State(endpoint string) string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	b.mu.Lock()
	cb, ok := b.breakers[endpoint]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

// IsOpen reports whether endpoint is currently short-circuited.
func (b *Breakers) IsOpen(endpoint string) bool {
	return b.State(endpoint) == gobreaker.StateOpen.String()
}

func (b *Breakers) get(endpoint string) *gobreaker.CircuitBreaker[struct{}] {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[endpoint]; ok {
		return cb
	}

	cfg := b.cfg
	settings := gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
		// Caller cancellation says nothing about the endpoint.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, from.String(), to.String())
		}
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](settings)
	b.breakers[endpoint] = cb
	return cb
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
