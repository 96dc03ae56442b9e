package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimit rejects requests from a client that exceeded max requests per
// window for operation. The client is the remote IP as set by chi's RealIP.
// Limiter errors fail closed with a 500.
func RateLimit(limiter *ratelimit.Limiter, operation string, window time.Duration, max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.Key(operation, ClientIP(r))
			decision, err := limiter.CheckAndConsume(r.Context(), key, window, max)
			if err != nil {
				if observability.ServerLogger != nil {
					observability.ServerLogger.Error("Rate limit check failed",
						zap.String("operation", operation),
						zap.Error(err),
						zap.String("requestID", GetRequestID(r.Context())))
				}
				env := errors.NewErrorEnvelope("INTERNAL_ERROR", "Interner Fehler, bitte später erneut versuchen.").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, env, http.StatusInternalServerError)
				return
			}

			metrics.RecordRateLimitDecision(operation, decision.Allowed)
			SetRateLimitHeaders(w, decision)
			if !decision.Allowed {
				WriteRateLimited(w, r, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders advertises the remaining quota. The reset header is
// in seconds from now, rounded up.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(d.RetryAfterSeconds(), 10))
}

// WriteRateLimited writes the 429 response for a denied decision.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
	SetRateLimitHeaders(w, d)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter(d), 10))

	env := errors.NewErrorEnvelope("TOO_MANY_REQUESTS", TooManyRequestsMessage(d)).
		WithCorrelationID(GetRequestID(r.Context()))
	writeErrorResponse(w, env, http.StatusTooManyRequests)
}

// TooManyRequestsMessage is the polite wait-and-retry text shown to visitors.
func TooManyRequestsMessage(d ratelimit.Decision) string {
	seconds := retryAfter(d)
	unit := "Sekunden"
	if seconds == 1 {
		unit = "Sekunde"
	}
	return fmt.Sprintf("Zu viele Anfragen. Bitte in %d %s erneut versuchen.", seconds, unit)
}

// retryAfter never tells a denied client to retry immediately.
func retryAfter(d ratelimit.Decision) int64 {
	if s := d.RetryAfterSeconds(); s > 0 {
		return s
	}
	return 1
}

// ClientIP returns the request's remote address without the port.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
