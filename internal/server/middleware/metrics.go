package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/observability"
)

// statusRecorder captures what the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.size += int64(n)
	return n, err
}

// knownEndpoints bounds the endpoint label for requests that never reached
// a chi route (404s, middleware rejections).
var knownEndpoints = map[string]string{
	"/health":            "/health/*",
	"/health/live":       "/health/*",
	"/health/ready":      "/health/*",
	"/health/startup":    "/health/*",
	"/version":           "/version",
	"/metrics":           "/metrics",
	"/api/v1/otp":        "/api/v1/otp",
	"/api/v1/otp/verify": "/api/v1/otp/verify",
	"/admin/scrape":      "/admin/scrape",
	"/admin/signal":      "/admin/signal",
	"/":                  "/",
}

func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if pattern, ok := knownEndpoints[r.URL.Path]; ok {
		return pattern
	}
	return "/unknown"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "server_error"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 400:
		return "client_error"
	default:
		return ""
	}
}

// RequestMetrics counts and times every request by route pattern and logs
// one line per request. Rate limit denials get their own error_type.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}

		_ = sys.Counter("http_requests_total", 1, labels)
		_ = sys.Histogram("http_request_duration_ms", elapsed, labels)
		_ = sys.Gauge("http_request_size_bytes", float64(max(r.ContentLength, 0)),
			map[string]string{"method": r.Method, "endpoint": endpoint})
		_ = sys.Gauge("http_response_size_bytes", float64(rec.size),
			map[string]string{"method": r.Method, "endpoint": endpoint})

		if class := statusClass(rec.status); class != "" {
			_ = sys.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": class,
			})
		}

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.String("client", r.RemoteAddr),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("response_size", rec.size),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}
