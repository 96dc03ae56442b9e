package otp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pendingCode struct {
	code      string
	expiresAt time.Time
}

// CodeStore keeps the latest pending code per email in memory.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]pendingCode
}

func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]pendingCode)}
}

// Put replaces any pending code for email.
func (s *CodeStore) Put(email, code string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]pendingCode)
	}
	s.codes[email] = pendingCode{code: code, expiresAt: expiresAt}
}

func (s *CodeStore) Delete(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
}

// Consume reports whether code matches the live code for email and removes
// it on success. Expired codes are removed and never match.
func (s *CodeStore) Consume(email, code string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[email]
	if !ok {
		return false
	}
	if !now.Before(pending.expiresAt) {
		delete(s.codes, email)
		return false
	}
	if !codesEqual(pending.code, code) {
		return false
	}
	delete(s.codes, email)
	return true
}

// Sweep removes expired codes and returns how many were dropped.
func (s *CodeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for email, pending := range s.codes {
		if !now.Before(pending.expiresAt) {
			delete(s.codes, email)
			removed++
		}
	}
	return removed
}

func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// StartJanitor sweeps every interval until ctx is done.
func (s *CodeStore) StartJanitor(ctx context.Context, every time.Duration, clock func() time.Time) {
	if every <= 0 {
		return
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	go func() {
		ticker := time.NewTicker(every)
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

// LogSender writes codes to the operator log. It stands in for a mail
// gateway in development.
type LogSender struct {
	Logger interface {
		Info(msg string, fields ...zap.Field)
	}
}

func (s LogSender) Send(_ context.Context, email, code string, expiresAt time.Time) error {
	if s.Logger == nil {
		return nil
	}
	s.Logger.Info("OTP code",
		zap.String("email", email),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt))
	return nil
}
