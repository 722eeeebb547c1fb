package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TOME_POSTGRES_URL", "postgres://localhost/tome_test?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "tome_session", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "X-API-Key", cfg.Auth.APIKeyHeader)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("TOME_POSTGRES_URL", "postgres://db:5432/tome")
	t.Setenv("TOME_PORT", "9191")
	t.Setenv("TOME_SESSION_TTL", "30m")
	t.Setenv("TOME_SESSION_SECURE", "true")
	t.Setenv("TOME_LOG_LEVEL", "debug")
	t.Setenv("TOME_POSTGRES_MAX_CONNS", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
}

func TestLoadConfig_MissingPostgresURL(t *testing.T) {
	t.Setenv("TOME_POSTGRES_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080"},
			Storage: StorageConfig{PostgresURL: "postgres://x", RedisURL: "redis://y"},
			Session: SessionConfig{CookieName: "tome_session", TTL: time.Hour},
			Auth:    AuthConfig{APIKeyHeader: "X-API-Key"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("zero session TTL", func(t *testing.T) {
		cfg := valid()
		cfg.Session.TTL = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing api key header", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.APIKeyHeader = ""
		assert.Error(t, cfg.Validate())
	})
}
