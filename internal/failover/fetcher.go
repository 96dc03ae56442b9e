package failover

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single endpoint attempt.
	DefaultTimeout = 25 * time.Second

	// DefaultBodySnippet is how much of an error response body is kept.
	DefaultBodySnippet = 512
)

var errAttemptFailed = errors.New("attempt failed")

// Logger is the subset of the structured logger the fetcher uses.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Client carries the settings shared by all Fetch calls.
type Client struct {
	HTTP        *http.Client
	Timeout     time.Duration
	BodySnippet int

	// Pacer, when set, is waited on before every attempt.
	Pacer *rate.Limiter

	// Breakers, when set, short-circuits endpoints that keep failing.
	Breakers *Breakers

	Logger Logger

	// OnAttempt is called once per finished attempt, in order.
	OnAttempt func(Attempt)
}

// HTTPConfig holds transport settings for NewHTTPClient.
type HTTPConfig struct {
	ConnectTimeout      time.Duration
	TLSTimeout          time.Duration
	IdleTimeout         time.Duration
	MaxIdleConnsPerHost int
}

// DefaultHTTPConfig returns transport defaults for public APIs.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ConnectTimeout:      10 * time.Second,
		TLSTimeout:          10 * time.Second,
		IdleTimeout:         90 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
}

// NewHTTPClient builds an http.Client without an overall timeout; the
// per-attempt deadline comes from the request context.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   cfg.TLSTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// Fetch tries endpoints in order and returns the first decoded payload.
//
// At most one attempt is in flight. Every failure is recorded and the next
// endpoint is tried; the aggregate ExhaustedError is returned only after all
// endpoints failed. If ctx ends first, a CanceledError is returned and no
// further endpoints are contacted. A nil decode uses JSONDecoder.
func Fetch[T any](ctx context.Context, c *Client, endpoints []string, build RequestBuilder, decode Decoder[T]) (*Result[T], error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if build == nil {
		return nil, errors.New("request builder is required")
	}
	if decode == nil {
		decode = JSONDecoder[T]()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c == nil {
		c = &Client{}
	}

	attempts := make([]Attempt, 0, len(endpoints))
	for i, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, c.canceled(attempts, err)
		}

		if c.Pacer != nil {
			if err := c.Pacer.Wait(ctx); err != nil {
				cause := ctx.Err()
				if cause == nil {
					cause = err
				}
				return nil, c.canceled(attempts, cause)
			}
		}

		start := time.Now()
		payload, attempt := runAttempt(ctx, c, endpoint, build, decode)
		attempt.Elapsed = time.Since(start)

		if err := ctx.Err(); err != nil {
			return nil, c.canceled(attempts, err)
		}

		attempts = append(attempts, attempt)
		if c.OnAttempt != nil {
			c.OnAttempt(attempt)
		}

		if attempt.Succeeded() {
			c.logger().Debug("Endpoint succeeded",
				zap.String("endpoint", endpoint),
				zap.Int("position", i+1),
				zap.Duration("elapsed", attempt.Elapsed))
			return &Result[T]{Payload: payload, Source: endpoint, Attempts: attempts}, nil
		}

		c.logger().Warn("Endpoint failed, trying next",
			zap.String("endpoint", endpoint),
			zap.String("kind", string(attempt.Kind)),
			zap.Int("status", attempt.StatusCode),
			zap.String("error", attempt.Err),
			zap.Duration("elapsed", attempt.Elapsed),
			zap.Int("remaining", len(endpoints)-i-1))
	}

	return nil, &ExhaustedError{Attempts: attempts, Total: len(endpoints)}
}

func runAttempt[T any](ctx context.Context, c *Client, endpoint string, build RequestBuilder, decode Decoder[T]) (T, Attempt) {
	cb := c.Breakers.get(endpoint)
	if cb == nil {
		return attemptOnce(ctx, c, endpoint, build, decode)
	}

	var payload T
	var attempt Attempt
	_, err := cb.Execute(func() (struct{}, error) {
		payload, attempt = attemptOnce(ctx, c, endpoint, build, decode)
		if ctx.Err() != nil {
			return struct{}{}, ctx.Err()
		}
		if !attempt.Succeeded() {
			return struct{}{}, errAttemptFailed
		}
		return struct{}{}, nil
	})
	if isBreakerRejection(err) {
		var zero T
		return zero, Attempt{Endpoint: endpoint, Kind: KindCircuitOpen, Err: err.Error()}
	}
	return payload, attempt
}

func attemptOnce[T any](ctx context.Context, c *Client, endpoint string, build RequestBuilder, decode Decoder[T]) (T, Attempt) {
	var zero T
	attempt := Attempt{Endpoint: endpoint}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := build(attemptCtx, endpoint)
	if err != nil {
		attempt.Kind = KindTransport
		attempt.Err = fmt.Sprintf("build request: %v", err)
		return zero, attempt
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		attempt.Kind = classifyTransport(attemptCtx, err)
		attempt.Err = err.Error()
		return zero, attempt
	}
	defer func() { _ = resp.Body.Close() }()

	attempt.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(c.bodySnippet())))
		attempt.Kind = KindBadStatus
		attempt.Body = strings.TrimSpace(string(snippet))
		attempt.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return zero, attempt
	}

	payload, err := decode(resp.Body)
	if err != nil {
		// A deadline while streaming the body is a timeout, not bad data.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			attempt.Kind = KindTimeout
		} else {
			attempt.Kind = KindDecode
		}
		attempt.Err = err.Error()
		return zero, attempt
	}

	return payload, attempt
}

func classifyTransport(attemptCtx context.Context, err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func (c *Client) canceled(attempts []Attempt, cause error) error {
	c.logger().Debug("Fetch canceled",
		zap.Int("attempted", len(attempts)),
		zap.Error(cause))
	return &CanceledError{Attempts: attempts, Cause: cause}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Client) bodySnippet() int {
	if c.BodySnippet > 0 {
		return c.BodySnippet
	}
	return DefaultBodySnippet
}

func (c *Client) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}
