// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the session and audit store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for rate-limit counters and the
	// rotation replay cache; empty falls back to in-process stores.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) used to sign access tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key paired with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "embed-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "embed-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTL is the access token lifetime (e.g. "15m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "168h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`
	// RotationGracePeriod is how long a consumed refresh token may be
	// replayed and still receive the identical successor pair (e.g. "30s").
	RotationGracePeriod string `mapstructure:"ROTATION_GRACE_PERIOD"`

	// RateLimitIssueMax caps session issuance per key per minute.
	RateLimitIssueMax int `mapstructure:"RATE_LIMIT_ISSUE_MAX"`
	// RateLimitRotateMax caps rotations per key per minute.
	RateLimitRotateMax int `mapstructure:"RATE_LIMIT_ROTATE_MAX"`
	// RateLimitFailedAuthMax caps failed authentications per address per minute.
	RateLimitFailedAuthMax int `mapstructure:"RATE_LIMIT_FAILED_AUTH_MAX"`

	// RetentionHorizon is how long terminal token rows are kept before the
	// sweeper purges them (e.g. "720h").
	RetentionHorizon string `mapstructure:"RETENTION_HORIZON"`
	// SweepInterval is how often the retention sweeper runs (e.g. "1h").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// OTLPEndpoint is the OTLP gRPC collector address; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_ISSUER", "embed-auth")
	v.SetDefault("JWT_AUDIENCE", "embed-api")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h") // 7d
	v.SetDefault("ROTATION_GRACE_PERIOD", "30s")
	v.SetDefault("RATE_LIMIT_ISSUE_MAX", 10)
	v.SetDefault("RATE_LIMIT_ROTATE_MAX", 60)
	v.SetDefault("RATE_LIMIT_FAILED_AUTH_MAX", 10)
	v.SetDefault("RETENTION_HORIZON", "720h") // 30d
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RateLimitIssueMax < 0 || cfg.RateLimitRotateMax < 0 || cfg.RateLimitFailedAuthMax < 0 {
		return nil, errors.New("config: rate limit maxima must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses AccessTokenTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.AccessTokenTTL, 15*time.Minute)
}

// RefreshTTL parses RefreshTokenTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.RefreshTokenTTL, 168*time.Hour)
}

// GracePeriod parses RotationGracePeriod. Returns 30s if unset or invalid.
func (c *Config) GracePeriod() time.Duration {
	return durationOr(c.RotationGracePeriod, 30*time.Second)
}

// Retention parses RetentionHorizon. Returns 720h if unset or invalid.
func (c *Config) Retention() time.Duration {
	return durationOr(c.RetentionHorizon, 720*time.Hour)
}

// Sweep parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) Sweep() time.Duration {
	return durationOr(c.SweepInterval, time.Hour)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
