package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openrdap/rdap"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/scaffoldir/scaffoldir/internal/config"
	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/ratelimit"
	"github.com/scaffoldir/scaffoldir/internal/server/handlers"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// limiterBackend is the limiter plus what serve needs to keep it healthy.
type limiterBackend struct {
	Limiter *ratelimit.Limiter
	Name    string
	Checker handlers.HealthChecker
	close   func() error
}

func (b *limiterBackend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// buildLimiter selects the rate limit store named by cfg.RateLimit.Backend.
// The libsql backend needs db; its sweeper runs until ctx is done, as does
// the memory janitor.
func buildLimiter(ctx context.Context, cfg *config.Config, db *store.Store, logger observability.Logger) (*limiterBackend, error) {
	sweep := cfg.RateLimit.SweepInterval

	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := ratelimit.NewRedisStore(client, ratelimit.WithRedisPrefix(cfg.Redis.Prefix))
		return &limiterBackend{
			Limiter: ratelimit.New(rs, ratelimit.WithLogger(logger)),
			Name:    "redis",
			Checker: handlers.CheckerFunc(rs.Ping),
			close:   client.Close,
		}, nil

	case config.BackendLibsql:
		if db == nil {
			return nil, fmt.Errorf("rate_limit.backend %q requires the store", config.BackendLibsql)
		}
		backend := db.RateLimits()
		startSweeper(ctx, sweep, func(now time.Time) {
			n, err := db.SweepRateLimits(ctx, now)
			if err != nil {
				logger.Warn("Rate limit sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Debug("Swept expired rate limit entries", zap.Int64("deleted", n))
			}
		})
		return &limiterBackend{
			Limiter: ratelimit.New(backend, ratelimit.WithLogger(logger)),
			Name:    "libsql",
			Checker: handlers.CheckerFunc(backend.Ping),
		}, nil

	default:
		ms := ratelimit.NewMemoryStore()
		ms.StartJanitor(ctx, sweep, nil)
		return &limiterBackend{
			Limiter: ratelimit.New(ms, ratelimit.WithLogger(logger)),
			Name:    "memory",
			Checker: handlers.CheckerFunc(ms.Ping),
		}, nil
	}
}

func startSweeper(ctx context.Context, every time.Duration, sweep func(now time.Time)) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(time.Now().UTC())
			}
		}
	}()
}

// buildScraper wires the failover client for the configured mirrors.
func buildScraper(cfg config.OverpassConfig, logger observability.Logger) *overpass.Scraper {
	client := &failover.Client{
		HTTP:    failover.NewHTTPClient(failover.DefaultHTTPConfig()),
		Timeout: cfg.Timeout,
		Logger:  logger,
		OnAttempt: func(a failover.Attempt) {
			metrics.RecordFetchAttempt(string(a.Kind))
		},
	}
	if cfg.PacerInterval > 0 {
		client.Pacer = rate.NewLimiter(rate.Every(cfg.PacerInterval), 1)
	}
	if cfg.Breaker.Enabled {
		bc := failover.DefaultBreakerConfig()
		if cfg.Breaker.Threshold > 0 {
			bc.Threshold = cfg.Breaker.Threshold
		}
		if cfg.Breaker.Timeout > 0 {
			bc.Timeout = cfg.Breaker.Timeout
		}
		bc.OnStateChange = func(endpoint, from, to string) {
			logger.Warn("Mirror circuit breaker changed state",
				zap.String("mirror", endpoint),
				zap.String("from", from),
				zap.String("to", to))
		}
		client.Breakers = failover.NewBreakers(bc)
	}

	return &overpass.Scraper{
		Client:    client,
		Mirrors:   cfg.Mirrors,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	}
}

// buildVerifier wires RDAP website verification.
func buildVerifier(cfg config.RDAPConfig, logger observability.Logger) *listing.WebsiteVerifier {
	v := &listing.WebsiteVerifier{
		Client:  &rdap.Client{},
		Timeout: cfg.Timeout,
		Logger:  logger,
	}
	if len(cfg.Servers) > 0 {
		v.Servers = cfg.Servers
	}
	return v
}

// mirrorsFile is the YAML accepted by --mirrors-file.
type mirrorsFile struct {
	Mirrors []string `yaml:"mirrors"`
}

func loadMirrorsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mirrors file: %w", err)
	}
	var parsed mirrorsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse mirrors file: %w", err)
	}
	mirrors := make([]string, 0, len(parsed.Mirrors))
	for _, m := range parsed.Mirrors {
		if m = strings.TrimSpace(m); m != "" {
			mirrors = append(mirrors, m)
		}
	}
	if len(mirrors) == 0 {
		return nil, fmt.Errorf("mirrors file %s lists no mirrors", path)
	}
	return mirrors, nil
}
