package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/appid"
	"github.com/scaffoldir/scaffoldir/internal/config"
	errwrap "github.com/scaffoldir/scaffoldir/internal/errors"
	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/otp"
	"github.com/scaffoldir/scaffoldir/internal/server"
	"github.com/scaffoldir/scaffoldir/internal/server/handlers"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the directory API: OTP issuance, admin-triggered scrapes, health and metrics.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file (restart to apply)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		identity := appid.Get()
		namespace := identity.TelemetryNamespace()
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "open store")
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return errwrap.WrapDatabaseError(ctx, err, "migrate store")
		}

		backend, err := buildLimiter(ctx, cfg, db, logger)
		if err != nil {
			_ = db.Close()
			return errwrap.WrapInternal(ctx, err, "rate limiter initialization failed")
		}

		codes := otp.NewCodeStore()
		codes.StartJanitor(ctx, time.Minute, nil)
		otpService := &otp.Service{
			Limiter:     backend.Limiter,
			Codes:       codes,
			Sender:      otp.LogSender{Logger: logger},
			Window:      cfg.OTP.Window,
			MaxRequests: cfg.OTP.MaxRequests,
			CodeTTL:     cfg.OTP.CodeTTL,
			Logger:      logger,
		}

		health := handlers.NewHealthManager(versionInfo.Version)
		health.RegisterChecker("store", handlers.CheckerFunc(db.Ping))
		health.RegisterChecker("ratelimit_"+backend.Name, backend.Checker)
		if cfg.Metrics.Enabled {
			health.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(cfg.Server, server.Dependencies{
			Health:       health,
			OTP:          otpService,
			Limiter:      backend.Limiter,
			Scraper:      buildScraper(cfg.Overpass, logger),
			ScrapeStore:  db,
			DefaultArea:  cfg.Overpass.DefaultArea,
			QueryTimeout: cfg.Overpass.QueryTimeout,
			AdminToken:   cfg.Admin.Token,
			Logger:       logger,
		})

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("ratelimit_backend", backend.Name),
			zap.Int("otp_max_requests", cfg.OTP.MaxRequests),
			zap.Duration("otp_window", cfg.OTP.Window),
			zap.Int("overpass_mirrors", len(cfg.Overpass.Mirrors)))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, then backends, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			cancel()
			if err := backend.Close(); err != nil {
				logger.Warn("Closing rate limit backend failed", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
			defer cancelShutdown()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: validating configuration")
			if _, err := config.Load(flagOverrides()); err != nil {
				logger.Error("Config reload rejected", zap.Error(err))
				return errwrap.WrapInvalidInput(ctx, err, "config reload failed")
			}
			logger.Info("Configuration is valid; restart to apply changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("rate-limit-backend", config.BackendMemory, "rate limit backend: memory|redis|libsql")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("rate_limit.backend", serveCmd.Flags().Lookup("rate-limit-backend"))
}
