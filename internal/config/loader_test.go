package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		isolateConfig(t)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("scaffoldir"), "scaffoldir.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)

		// Verify limiter and OTP defaults
		assert.Equal(t, BackendMemory, cfg.RateLimit.Backend)
		assert.Equal(t, time.Minute, cfg.OTP.Window)
		assert.Equal(t, 5, cfg.OTP.MaxRequests)
		assert.Equal(t, 10*time.Minute, cfg.OTP.CodeTTL)

		// Verify scraper defaults
		require.Len(t, cfg.Overpass.Mirrors, 4)
		assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.Overpass.Mirrors[0])
		assert.Equal(t, 25*time.Second, cfg.Overpass.Timeout)
		assert.True(t, cfg.Overpass.Breaker.Enabled)
		assert.Equal(t, uint32(3), cfg.Overpass.Breaker.Threshold)

		// Verify logging defaults
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolateConfig(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolateConfig(t)
		t.Setenv("SCAFFOLDIR_PORT", "3000")
		t.Setenv("SCAFFOLDIR_LOG_LEVEL", "warn")
		t.Setenv("SCAFFOLDIR_METRICS_ENABLED", "false")
		t.Setenv("SCAFFOLDIR_OTP_MAX_REQUESTS", "3")
		t.Setenv("SCAFFOLDIR_OVERPASS_MIRRORS", "https://a.example/api/interpreter, https://b.example/api/interpreter")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 3, cfg.OTP.MaxRequests)
		assert.Equal(t, []string{"https://a.example/api/interpreter", "https://b.example/api/interpreter"}, cfg.Overpass.Mirrors)
	})

	t.Run("UserConfigFile", func(t *testing.T) {
		isolateConfig(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
rate_limit:
  backend: Redis
redis:
  addr: localhost:6379
otp:
  window: 30s
rdap:
  servers:
    de: ["https://rdap.example"]
`), 0o600))
		SetConfigFile(path)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, BackendRedis, cfg.RateLimit.Backend)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, 30*time.Second, cfg.OTP.Window)
		assert.Equal(t, 5, cfg.OTP.MaxRequests)
		assert.Equal(t, []string{"https://rdap.example"}, cfg.RDAP.Servers["de"])
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolateConfig(t)
		SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolateConfig(t)
		t.Setenv("SCAFFOLDIR_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(overrides)
		require.NoError(t, err)

		// Runtime override should take precedence over env var
		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	isolateConfig(t)

	tests := map[string]map[string]any{
		"zero window":     {"otp": map[string]any{"window": "0s"}},
		"zero max":        {"otp": map[string]any{"max_requests": 0}},
		"no mirrors":      {"overpass": map[string]any{"mirrors": []string{}}},
		"unknown backend": {"rate_limit": map[string]any{"backend": "memcached"}},
		"redis no addr":   {"rate_limit": map[string]any{"backend": "redis"}},
	}

	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(overrides)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestGetConfig(t *testing.T) {
	isolateConfig(t)

	cfg, err := Load()
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["SCAFFOLDIR_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["SCAFFOLDIR_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["SCAFFOLDIR_DB_PATH"], "DB_PATH env var must be mapped")
	assert.True(t, envVarNames["SCAFFOLDIR_REDIS_ADDR"], "REDIS_ADDR env var must be mapped")
	assert.True(t, envVarNames["SCAFFOLDIR_ADMIN_TOKEN"], "ADMIN_TOKEN env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	isolateConfig(t)
	t.Setenv("SCAFFOLDIR_READ_TIMEOUT", "45s")
	t.Setenv("SCAFFOLDIR_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{
		"server": map[string]any{"host": "localhost", "port": 8080},
		"keep":   true,
	}
	mergeMaps(dst, map[string]any{
		"server": map[string]any{"port": 9000},
		"new":    "value",
	})

	assert.Equal(t, map[string]any{
		"server": map[string]any{"host": "localhost", "port": 9000},
		"keep":   true,
		"new":    "value",
	}, dst)
}
