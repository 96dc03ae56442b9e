package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/config"
	apperrors "github.com/scaffoldir/scaffoldir/internal/errors"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/otp"
	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
	"github.com/scaffoldir/scaffoldir/internal/server/handlers"
	servermw "github.com/scaffoldir/scaffoldir/internal/server/middleware"
)

// Dependencies are the services the routes dispatch to. Nil members disable
// the routes that need them.
type Dependencies struct {
	Health  *handlers.HealthManager
	OTP     *otp.Service
	Limiter *ratelimit.Limiter

	// VerifyWindow and VerifyMax bound code verification attempts per client.
	VerifyWindow time.Duration
	VerifyMax    int

	Scraper      handlers.Scraper
	ScrapeStore  handlers.ScrapeStore
	DefaultArea  string
	QueryTimeout time.Duration

	// AdminToken enables /admin routes when set.
	AdminToken string

	// ScrapeWindow and ScrapeMax bound admin-triggered scrapes per client.
	ScrapeWindow time.Duration
	ScrapeMax    int

	Logger observability.Logger
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	deps   Dependencies
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID first for correlation, Recovery last so it sees handler panics.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("Die angeforderte Seite existiert nicht."))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("Methode für diese Ressource nicht erlaubt."))
	})

	if deps.Health == nil {
		deps.Health = handlers.NewHealthManager(handlers.AppVersion)
	}
	if deps.Logger == nil {
		deps.Logger = observability.Active()
	}

	s := &Server{
		router: r,
		cfg:    cfg,
		deps:   deps,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 90*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, 120*time.Second),
	}

	s.deps.Logger.Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Logger.Info("Shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured server port
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
