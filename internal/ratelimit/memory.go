package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory.
//
// Expired entries are ignored on read; Sweep and StartJanitor only reclaim memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Consume implements Store.
func (s *MemoryStore) Consume(_ context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]Entry)
	}

	entry, found := s.entries[key]
	next, decision := Apply(entry, found, now, window, max)
	s.entries[key] = next
	return decision, nil
}

// Get returns the live entry for key, if any.
func (s *MemoryStore) Get(key string, now time.Time) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.ResetAt) {
		return Entry{}, false
	}
	return entry, true
}

// Sweep removes entries whose window ended at or before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.ResetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ping implements the health check contract used by the server.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// A nil clock uses the wall clock.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration, clock func() time.Time) {
	if every <= 0 {
		return
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(clock())
			}
		}
	}()
}
