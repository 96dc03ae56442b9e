package server

import (
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/otp"
	"github.com/scaffoldir/scaffoldir/internal/server/handlers"
	servermw "github.com/scaffoldir/scaffoldir/internal/server/middleware"
)

// Operation names used as rate limit key prefixes.
const (
	OperationOTPVerify = "otp-verify"
	OperationScrape    = "scrape"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.deps.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// In the server package to reach HandleError.
	s.router.Get("/metrics", MetricsHandler)

	s.registerOTPRoutes()
	s.registerAdminRoutes()
}

func (s *Server) registerOTPRoutes() {
	if s.deps.OTP == nil {
		s.deps.Logger.Debug("OTP endpoints disabled (no service configured)")
		return
	}

	h := &handlers.OTPHandler{Service: s.deps.OTP, Logger: s.deps.Logger}
	// Issuance consults the limiter inside the service.
	s.router.Post("/api/v1/otp", h.Request)
	s.router.With(s.limit(OperationOTPVerify, s.deps.VerifyWindow, s.deps.VerifyMax, otp.DefaultWindow, 10)).
		Post("/api/v1/otp/verify", h.Verify)
}

// registerAdminRoutes mounts /admin behind the bearer token. Without a token
// nothing is mounted.
func (s *Server) registerAdminRoutes() {
	token := s.deps.AdminToken
	logger := s.deps.Logger

	if token == "" {
		logger.Debug("Admin endpoints disabled (no admin.token set)")
		return
	}

	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: token,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Post("/signal", signalHandler.ServeHTTP)

		if s.deps.Scraper != nil {
			scrape := &handlers.ScrapeHandler{
				Scraper:      s.deps.Scraper,
				Store:        s.deps.ScrapeStore,
				DefaultArea:  s.deps.DefaultArea,
				QueryTimeout: s.deps.QueryTimeout,
				Logger:       logger,
			}
			r.With(
				servermw.RequireBearer(token),
				s.limit(OperationScrape, s.deps.ScrapeWindow, s.deps.ScrapeMax, time.Minute, 2),
			).Post("/scrape", scrape.ServeHTTP)
		}
	})

	logger.Info("Admin endpoints enabled",
		zap.Strings("paths", []string{"/admin/signal", "/admin/scrape"}),
		zap.String("auth", "bearer token"))
	logger.Warn("Admin endpoints enabled - ensure this server is not exposed to public internet")
}

// limit returns the rate limit middleware, or a passthrough when no limiter
// is configured.
func (s *Server) limit(operation string, window time.Duration, max int, defaultWindow time.Duration, defaultMax int) func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if window <= 0 {
		window = defaultWindow
	}
	if max <= 0 {
		max = defaultMax
	}
	return servermw.RateLimit(s.deps.Limiter, operation, window, max)
}
