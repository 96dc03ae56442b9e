// Package otp issues and verifies one-time sign-in codes for directory
// listing owners. Issuance is guarded by a per-client rate limit.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
)

// Operation is the rate limit key prefix for code requests.
const Operation = "otp"

const (
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 5
	DefaultCodeTTL     = 10 * time.Minute
	codeDigits         = 6
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidCode  = errors.New("invalid or expired code")
)

// RateLimitedError is returned when a client exceeded its request quota.
type RateLimitedError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many code requests, retry in %ds", e.Decision.RetryAfterSeconds())
}

// RetryIn is the time until the client's window resets.
func (e *RateLimitedError) RetryIn() time.Duration {
	return e.Decision.ResetIn
}

// Issued describes a code that was sent. The code itself is never returned.
type Issued struct {
	RequestID string             `json:"request_id"`
	ExpiresAt time.Time          `json:"expires_at"`
	Decision  ratelimit.Decision `json:"-"`
}

// Sender delivers a code to its recipient.
type Sender interface {
	Send(ctx context.Context, email, code string, expiresAt time.Time) error
}

// Logger is the subset of the structured logger the service uses.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Service issues codes after consulting the limiter.
type Service struct {
	Limiter     *ratelimit.Limiter
	Codes       *CodeStore
	Sender      Sender
	Window      time.Duration
	MaxRequests int
	CodeTTL     time.Duration
	Clock       func() time.Time
	Logger      Logger
}

// Request issues a code for email on behalf of client (usually the remote IP).
func (s *Service) Request(ctx context.Context, client, email string) (*Issued, error) {
	if s == nil || s.Limiter == nil || s.Codes == nil || s.Sender == nil {
		return nil, errors.New("otp service is not configured")
	}

	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	decision, err := s.Limiter.CheckAndConsume(ctx, ratelimit.Key(Operation, client), s.window(), s.maxRequests())
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{Decision: decision}
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.codeTTL())
	s.Codes.Put(email, code, expiresAt)

	if err := s.Sender.Send(ctx, email, code, expiresAt); err != nil {
		s.Codes.Delete(email)
		return nil, fmt.Errorf("send code: %w", err)
	}

	issued := &Issued{RequestID: uuid.NewString(), ExpiresAt: expiresAt, Decision: decision}
	if s.Logger != nil {
		s.Logger.Info("OTP issued",
			zap.String("request_id", issued.RequestID),
			zap.String("client", client),
			zap.Int("remaining", decision.Remaining))
	}
	return issued, nil
}

// Verify consumes the code for email. A code verifies at most once.
func (s *Service) Verify(email, code string) error {
	if s == nil || s.Codes == nil {
		return errors.New("otp service is not configured")
	}

	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	code = strings.TrimSpace(code)
	if len(code) != codeDigits {
		return ErrInvalidCode
	}

	if !s.Codes.Consume(email, code, s.now()) {
		return ErrInvalidCode
	}
	return nil
}

// NormalizeEmail validates and lowercases an address.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// GenerateCode returns a uniformly random numeric code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Service) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultWindow
}

func (s *Service) maxRequests() int {
	if s.MaxRequests > 0 {
		return s.MaxRequests
	}
	return DefaultMaxRequests
}

func (s *Service) codeTTL() time.Duration {
	if s.CodeTTL > 0 {
		return s.CodeTTL
	}
	return DefaultCodeTTL
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
