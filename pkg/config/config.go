// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tomewiki/tome/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Session       SessionConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// StorageConfig holds postgres and redis connection configuration
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// SessionConfig holds session cookie and lifetime configuration
type SessionConfig struct {
	CookieName   string
	TTL          time.Duration
	CookieSecure bool
}

// AuthConfig holds credential handling configuration
type AuthConfig struct {
	BcryptCost   int
	APIKeyHeader string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("TOME_HOST", "0.0.0.0"),
			Port:            getEnv("TOME_PORT", "8080"),
			ReadTimeout:     getEnvDuration("TOME_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("TOME_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("TOME_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("TOME_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    getEnvInt64("TOME_MAX_BODY_BYTES", 1<<20),
		},
		Storage: StorageConfig{
			PostgresURL:      getEnv("TOME_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("TOME_POSTGRES_MAX_CONNS", 20),
			PostgresMinConns: getEnvInt("TOME_POSTGRES_MIN_CONNS", 2),
			PostgresTimeout:  getEnvDuration("TOME_POSTGRES_TIMEOUT", 5*time.Second),
			RedisURL:         getEnv("TOME_REDIS_URL", "redis://localhost:6379/0"),
			RedisPassword:    getEnv("TOME_REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("TOME_REDIS_DB", -1),
			RedisPoolSize:    getEnvInt("TOME_REDIS_POOL_SIZE", 0),
		},
		Session: SessionConfig{
			CookieName:   getEnv("TOME_SESSION_COOKIE", "tome_session"),
			TTL:          getEnvDuration("TOME_SESSION_TTL", 24*time.Hour),
			CookieSecure: getEnvBool("TOME_SESSION_SECURE", false),
		},
		Auth: AuthConfig{
			BcryptCost:   getEnvInt("TOME_BCRYPT_COST", 0),
			APIKeyHeader: getEnv("TOME_API_KEY_HEADER", "X-API-Key"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(strings.ToLower(getEnv("TOME_LOG_LEVEL", "info"))),
			MetricsEnabled: getEnvBool("TOME_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.APIKeyHeader == "" {
		return fmt.Errorf("API key header name is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
