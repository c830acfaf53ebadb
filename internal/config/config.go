package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	AuthModeJWT    = "jwt"
	AuthModeJWKS   = "jwks"
	AuthModeRemote = "remote"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	Store             string        `mapstructure:"STORE"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisChannel      string        `mapstructure:"REDIS_CHANNEL"`
	AuthMode          string        `mapstructure:"AUTH_MODE"`
	AuthJWTSecret     string        `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthJWKSCacheTTL  time.Duration `mapstructure:"AUTH_JWKS_CACHE_TTL"`
	AuthServiceURL    string        `mapstructure:"AUTH_SERVICE_URL"`
	AuthServiceAPIKey string        `mapstructure:"AUTH_SERVICE_API_KEY"`
	AuthTimeout       time.Duration `mapstructure:"AUTH_TIMEOUT"`
	AdminEmails       []string      `mapstructure:"ADMIN_EMAILS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	ChangeFeedEnabled bool          `mapstructure:"CHANGEFEED_ENABLED"`
	PollIntervalSecs  int           `mapstructure:"POLL_INTERVAL_SECONDS"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_CHANNEL",
	"AUTH_MODE", "AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_JWKS_CACHE_TTL", "AUTH_SERVICE_URL", "AUTH_SERVICE_API_KEY", "AUTH_TIMEOUT",
	"ADMIN_EMAILS", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"CHANGEFEED_ENABLED", "POLL_INTERVAL_SECONDS", "SHUTDOWN_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. It does not validate; call Validate before use.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_CHANNEL", "medevac:events")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("AUTH_JWKS_CACHE_TTL", "10m")
	v.SetDefault("AUTH_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CHANGEFEED_ENABLED", false)
	v.SetDefault("POLL_INTERVAL_SECONDS", 15)
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AdminEmails = splitList(v.GetString("ADMIN_EMAILS"))
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE if set. Otherwise:
//   - AUTH_SERVICE_URL set               -> "remote" (ask the auth service)
//   - AUTH_JWKS_URL or AUTH_ISSUER set,
//     without AUTH_JWT_SECRET           -> "jwks"
//   - otherwise                          -> "jwt" (shared HS256 secret)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return strings.ToLower(c.AuthMode)
	}
	switch {
	case c.AuthServiceURL != "":
		return AuthModeRemote
	case c.AuthJWTSecret == "" && (c.AuthJWKSURL != "" || c.AuthIssuer != ""):
		return AuthModeJWKS
	default:
		return AuthModeJWT
	}
}

// Validate refuses configurations the server cannot run safely with.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
		}
		if c.ChangeFeedEnabled {
			return fmt.Errorf("CHANGEFEED_ENABLED requires STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeJWT:
		if len(c.AuthJWTSecret) < 32 {
			return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes when AUTH_MODE=%s", AuthModeJWT)
		}
	case AuthModeJWKS:
		if c.AuthJWKSURL == "" && c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_ISSUER is required when AUTH_MODE=%s", AuthModeJWKS)
		}
	case AuthModeRemote:
		if c.AuthServiceURL == "" {
			return fmt.Errorf("AUTH_SERVICE_URL is required when AUTH_MODE=%s", AuthModeRemote)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q or %q, got %q", AuthModeJWT, AuthModeJWKS, AuthModeRemote, mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.PollIntervalSecs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive, got %d", c.PollIntervalSecs)
	}
	if c.IsProduction() {
		for _, o := range c.CORSOrigins {
			if o == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain * in production")
			}
		}
	}
	return nil
}
