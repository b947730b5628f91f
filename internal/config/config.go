package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	// RedisURL is optional: without Redis the rate limiter falls back to the
	// in-process sliding window, which is acceptable for a single instance.
	RedisURL string `env:"REDIS_URL"`
	// AdminTokenHash is a bcrypt hash of the admin token; the plaintext never
	// lives in the environment. Empty disables the admin routes.
	AdminTokenHash         string `env:"ADMIN_TOKEN_HASH"`
	ProviderBaseURL        string `env:"PROVIDER_BASE_URL"`
	ProviderTimeoutSeconds int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"15"`
	SweepIntervalMinutes   int    `env:"SWEEP_INTERVAL_MINUTES" envDefault:"60"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowedOrigins     string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) AllowedOrigins() []string {
	origins := strings.Split(c.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func (c *Config) Validate(isProduction bool) error {
	if c.ProviderTimeoutSeconds <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive")
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive")
	}

	if c.AdminTokenHash != "" &&
		!strings.HasPrefix(c.AdminTokenHash, "$2a$") &&
		!strings.HasPrefix(c.AdminTokenHash, "$2b$") &&
		!strings.HasPrefix(c.AdminTokenHash, "$2y$") {
		return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
	}

	if isProduction {
		if c.AdminTokenHash == "" {
			log.Warn().Msg("ADMIN_TOKEN_HASH is empty in production: admin and job routes are disabled")
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: rate limiting is per-instance only")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.ProviderBaseURL == "" {
			log.Warn().Msg("PROVIDER_BASE_URL is empty in production: metered service routes will reject all calls")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
