package main

import (
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/httpapi"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type serverConfig struct {
	HTTPAddr        string
	Environment     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL string
	AutoMigrate bool
	RedisURL    string

	IdPBaseURL string
	IdPAPIKey  string
	IdPTimeout time.Duration

	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite string

	RateLimitPerMinute int
	TrustedProxies     []netip.Prefix
	AuditQueue         bool
	AuditWorker        bool
	SentryDSN          string

	Engine authbridge.Config
}

func (c serverConfig) isDevelopment() bool {
	return c.Environment == "development"
}

func loadConfig() (serverConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	def := authbridge.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("IDP_TIMEOUT", "5s")
	v.SetDefault("COOKIE_NAME", "refresh_token")
	v.SetDefault("COOKIE_PATH", "/auth")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("COOKIE_SAMESITE", "strict")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("AUDIT_QUEUE", false)
	v.SetDefault("AUDIT_WORKER", false)
	v.SetDefault("JWT_ISSUER", def.JWT.Issuer)
	v.SetDefault("JWT_ACCESS_TTL", def.JWT.AccessTTL.String())
	v.SetDefault("JWT_REFRESH_TTL", def.JWT.RefreshTTL.String())
	v.SetDefault("SESSION_REDIS_PREFIX", def.Session.RedisPrefix)
	v.SetDefault("LEGACY_PBKDF2_ITERATIONS", def.Password.LegacyIterations)
	v.SetDefault("TOTP_ISSUER", def.TOTP.Issuer)
	v.SetDefault("TOTP_MAX_VERIFY_ATTEMPTS", def.TOTP.MaxVerifyAttempts)
	v.SetDefault("TOTP_VERIFY_COOLDOWN", def.TOTP.VerifyCooldown)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", def.Security.MaxLoginAttempts)
	v.SetDefault("LOGIN_COOLDOWN", def.Security.LoginCooldownDuration.String())

	cfg := serverConfig{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		Environment:        v.GetString("ENVIRONMENT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		ShutdownTimeout:    v.GetDuration("SHUTDOWN_TIMEOUT"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		AutoMigrate:        v.GetBool("DATABASE_AUTO_MIGRATE"),
		RedisURL:           v.GetString("REDIS_URL"),
		IdPBaseURL:         v.GetString("IDP_BASE_URL"),
		IdPAPIKey:          v.GetString("IDP_API_KEY"),
		IdPTimeout:         v.GetDuration("IDP_TIMEOUT"),
		CookieName:         v.GetString("COOKIE_NAME"),
		CookieDomain:       v.GetString("COOKIE_DOMAIN"),
		CookiePath:         v.GetString("COOKIE_PATH"),
		CookieSecure:       v.GetBool("COOKIE_SECURE"),
		CookieSameSite:     v.GetString("COOKIE_SAMESITE"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		AuditQueue:         v.GetBool("AUDIT_QUEUE"),
		AuditWorker:        v.GetBool("AUDIT_WORKER"),
		SentryDSN:          v.GetString("SENTRY_DSN"),
	}

	engine := def
	engine.JWT.Secret = v.GetString("JWT_SECRET")
	engine.JWT.Issuer = v.GetString("JWT_ISSUER")
	engine.JWT.AccessTTL = v.GetDuration("JWT_ACCESS_TTL")
	engine.JWT.RefreshTTL = v.GetDuration("JWT_REFRESH_TTL")
	engine.Session.RedisPrefix = v.GetString("SESSION_REDIS_PREFIX")
	engine.Password.LegacyIterations = v.GetInt("LEGACY_PBKDF2_ITERATIONS")
	engine.TOTP.Issuer = v.GetString("TOTP_ISSUER")
	engine.TOTP.MaxVerifyAttempts = v.GetInt("TOTP_MAX_VERIFY_ATTEMPTS")
	engine.TOTP.VerifyCooldown = v.GetDuration("TOTP_VERIFY_COOLDOWN")
	engine.Security.MaxLoginAttempts = v.GetInt("MAX_LOGIN_ATTEMPTS")
	engine.Security.LoginCooldownDuration = v.GetDuration("LOGIN_COOLDOWN")
	cfg.Engine = engine

	// Comma-separated CIDRs or addresses of the reverse proxies in front.
	proxies, err := httpapi.ParseTrustedProxies(strings.Split(v.GetString("TRUSTED_PROXIES"), ","))
	if err != nil {
		return cfg, err
	}
	cfg.TrustedProxies = proxies

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.IdPBaseURL == "" {
		return cfg, errors.New("IDP_BASE_URL is required")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
