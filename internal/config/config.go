// Package config provides configuration loading and management for the handle service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env.local > .env precedence.
func init() {
	// Load .env.local first so its values win over the shared .env
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}
}

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures environment-driven settings for the handle service.
type Config struct {
	Env               string        `env:"ENV" envDefault:"dev"`                   // Deployment environment (dev, staging, prod)
	Address           string        `env:"HTTP_ADDR" envDefault:":8080"`           // HTTP server address
	MetricsAddress    string        `env:"METRICS_ADDR" envDefault:":9090"`        // Metrics server address, empty disables it
	StoreBackend      string        `env:"STORE_BACKEND" envDefault:"memory"`      // memory, redis or postgres
	RedisURL          string        `env:"REDIS_URL"`                              // redis://host:port/db
	DatabaseDSN       string        `env:"DB_DSN"`                                 // PostgreSQL connection string
	ClaimRateLimit    int           `env:"CLAIM_RATE_LIMIT" envDefault:"20"`       // Claim attempts per window per caller
	ClaimRateWindow   time.Duration `env:"CLAIM_RATE_WINDOW" envDefault:"60s"`     // Rate window length
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`       // Per-request deadline
	CORSOrigins       []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`    // Allowed CORS origins
	BreakerEnabled    bool          `env:"BREAKER_ENABLED" envDefault:"true"`      // Wrap the store in a circuit breaker
	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"` // Use X-Forwarded-For for caller identity
	ConnectTimeout    time.Duration `env:"STORE_CONNECT_TIMEOUT" envDefault:"30s"` // Total time spent retrying the store at startup
}

// envPrefix is prepended to every variable name above.
const envPrefix = "HANDLE_"

// Load reads environment variables and produces a validated Config.
func Load() (Config, error) {
	return parse(env.Options{Prefix: envPrefix})
}

// LoadFrom is Load over an explicit environment, for tests.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: envPrefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("HANDLE_REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("HANDLE_DB_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported HANDLE_STORE_BACKEND %q", c.StoreBackend)
	}
	if c.ClaimRateLimit <= 0 {
		return errors.New("HANDLE_CLAIM_RATE_LIMIT must be > 0")
	}
	if c.ClaimRateWindow <= 0 {
		return errors.New("HANDLE_CLAIM_RATE_WINDOW must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("HANDLE_REQUEST_TIMEOUT must be > 0")
	}
	if c.Address == "" {
		return errors.New("HANDLE_HTTP_ADDR must not be empty")
	}
	return nil
}
