// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis assessment store, used when DATABASE_URL is not set

	// Tracing
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT, tracing is disabled when empty

	// Security
	AdminSecret  string // Admin API secret, required in production
	RateLimitRPS int

	// Risk engine
	StaleAfter       time.Duration
	SourceTimeout    time.Duration
	MonitorInterval  time.Duration
	ReassessInterval time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultRateLimit        = 100
	DefaultStaleAfter       = 7 * 24 * time.Hour
	DefaultSourceTimeout    = 2 * time.Second
	DefaultMonitorInterval  = time.Hour
	DefaultReassessInterval = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		StaleAfter:       getEnvDuration("RISK_STALE_AFTER", DefaultStaleAfter),
		SourceTimeout:    getEnvDuration("RISK_SOURCE_TIMEOUT", DefaultSourceTimeout),
		MonitorInterval:  getEnvDuration("RISK_MONITOR_INTERVAL", DefaultMonitorInterval),
		ReassessInterval: getEnvDuration("RISK_REASSESS_INTERVAL", DefaultReassessInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}

	for name, d := range map[string]time.Duration{
		"RISK_STALE_AFTER":       c.StaleAfter,
		"RISK_SOURCE_TIMEOUT":    c.SourceTimeout,
		"RISK_MONITOR_INTERVAL":  c.MonitorInterval,
		"RISK_REASSESS_INTERVAL": c.ReassessInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration parses Go duration syntax ("90s", "168h"). Unparseable
// values fall back to the default; explicit non-positive values are kept so
// Validate can reject them.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
