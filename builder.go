package authbridge

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/authbridge/internal/audit"
	"github.com/MrEthical07/authbridge/internal/limiters"
	internalmetrics "github.com/MrEthical07/authbridge/internal/metrics"
	"github.com/MrEthical07/authbridge/internal/rate"
	"github.com/MrEthical07/authbridge/internal/stores"
	"github.com/MrEthical07/authbridge/jwt"
	"github.com/MrEthical07/authbridge/password"
	"github.com/MrEthical07/authbridge/session"
	"github.com/MrEthical07/authbridge/totp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory UserDirectory
	idp       IdentityProvider
	auditSink AuditSink
	logger    zerolog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing sessions, rate limits, and pending TOTP setups.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserDirectory(directory UserDirectory) *Builder {
	b.directory = directory
	return b
}

// WithIdentityProvider enables migration, external sign-in, and password
// checks for migrated accounts.
func (b *Builder) WithIdentityProvider(idp IdentityProvider) *Builder {
	b.idp = idp
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for tokens and TOTP checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates configuration, decodes key material once, and returns a
// ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL: cfg.JWT.AccessTTL,
		Secret:    cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
		Leeway:    cfg.JWT.Leeway,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	legacy, err := password.NewLegacy(password.Config{
		Iterations: cfg.Password.LegacyIterations,
	}, b.logger)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		logger:    b.logger.With().Str("component", "authbridge").Logger(),
		now:       now,
		directory: b.directory,
		idp:       b.idp,
		tokens:    tokens,
		legacy:    legacy,
		totp:      totp.New(totp.Config{Skew: cfg.TOTP.Skew, Now: now}),
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		limiter: rate.New(b.redis, rate.Config{
			Prefix:                  cfg.Session.RedisPrefix,
			EnableIPThrottle:        cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
		}),
		totpSetups: stores.NewTOTPSetupStore(b.redis, cfg.Session.RedisPrefix),
		totpLimit: limiters.NewTOTPLimiter(b.redis, limiters.TOTPLimiterConfig{
			Prefix:      cfg.Session.RedisPrefix,
			MaxAttempts: cfg.TOTP.MaxVerifyAttempts,
			Cooldown:    cfg.TOTP.VerifyCooldown,
			StepTTL:     time.Duration(2*cfg.TOTP.Skew+1) * totp.StepSeconds * time.Second,
		}),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Retain:     retainAuditEvent,
			Logger:     b.logger,
		}, b.auditSink),
		metrics: internalmetrics.New(internalmetrics.Config{
			Enabled:                 cfg.Metrics.Enabled,
			EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
		}),
	}
	engine.flowDeps = engine.buildFlowDeps()

	b.built = true
	return engine, nil
}
