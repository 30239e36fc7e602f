package authbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authbridge/password"
)

// Config is the complete engine configuration. Start from [DefaultConfig] and
// override fields; [Builder.Build] validates it once.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Password PasswordConfig
	TOTP     TOTPConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds access-token and refresh-session lifetimes and the signing key.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Secret is the base64-encoded HS512 key (at least 64 decoded bytes).
	Secret string
	Issuer string
	Leeway time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls Redis key layout.
type SessionConfig struct {
	RedisPrefix string
}

// PasswordConfig tunes the legacy PBKDF2 verifier.
type PasswordConfig struct {
	LegacyIterations int
}

// TOTPConfig tunes TOTP enrollment and code checks.
type TOTPConfig struct {
	Issuer           string
	Skew             int
	SetupTTL         time.Duration
	MaxSetupAttempts int

	// MaxVerifyAttempts bounds failed codes against an enabled secret
	// within VerifyCooldown.
	MaxVerifyAttempts int
	VerifyCooldown    time.Duration
}

// SecurityConfig holds login and refresh throttling.
type SecurityConfig struct {
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. JWT.Secret is left empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Issuer:     "authbridge",
		},
		Session: SessionConfig{
			RedisPrefix: "ab",
		},
		Password: PasswordConfig{
			LegacyIterations: password.DefaultIterations,
		},
		TOTP: TOTPConfig{
			Issuer:            "authbridge",
			Skew:              1,
			SetupTTL:          10 * time.Minute,
			MaxSetupAttempts:  5,
			MaxVerifyAttempts: 5,
			VerifyCooldown:    time.Minute,
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      30,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field constraints. Key decoding is checked later by
// the token manager.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("JWT Secret must be provided")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT Leeway must be between 0 and 1m")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if strings.ContainsAny(c.Session.RedisPrefix, " :") {
		return errors.New("Session RedisPrefix must not contain spaces or ':'")
	}

	if c.Password.LegacyIterations <= 0 {
		return errors.New("Password LegacyIterations must be > 0")
	}
	if c.Password.LegacyIterations > password.MaxIterations {
		return fmt.Errorf("Password LegacyIterations must be <= %d", password.MaxIterations)
	}

	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	if c.TOTP.SetupTTL <= 0 {
		return errors.New("TOTP SetupTTL must be > 0")
	}
	if c.TOTP.MaxSetupAttempts < 0 {
		return errors.New("TOTP MaxSetupAttempts must be >= 0")
	}
	if c.TOTP.MaxVerifyAttempts <= 0 {
		return errors.New("TOTP MaxVerifyAttempts must be > 0")
	}
	if c.TOTP.VerifyCooldown <= 0 {
		return errors.New("TOTP VerifyCooldown must be > 0")
	}

	if c.Security.MaxLoginAttempts < 0 || c.Security.MaxRefreshAttempts < 0 {
		return errors.New("Security attempt limits must be >= 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0 when login throttling is enabled")
	}
	if c.Security.MaxRefreshAttempts > 0 && c.Security.RefreshCooldownDuration <= 0 {
		return errors.New("Security RefreshCooldownDuration must be > 0 when refresh throttling is enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
