package authbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/authbridge/internal/audit"
	internalmetrics "github.com/MrEthical07/authbridge/internal/metrics"
	"github.com/rs/zerolog"
)

// UserParams carries the raw fields [NewUser] validates.
type UserParams struct {
	ID           string
	Email        string
	Username     string
	Authorities  []string
	PasswordHash string
	ExternalID   string
	TOTPSecret   string
	Active       bool
}

// User is an immutable directory record. Change operations return copies.
type User struct {
	id           string
	email        string
	username     string
	authorities  []string
	passwordHash string
	externalID   string
	totpSecret   string
	active       bool
}

// NewUser validates p and returns a User. The email is lowercased and must
// contain a single '@' with text on both sides.
func NewUser(p UserParams) (User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') || at == len(email)-1 {
		return User{}, fmt.Errorf("%w: invalid email %q", ErrValidation, p.Email)
	}
	username := strings.TrimSpace(p.Username)
	if username == "" {
		username = email[:at]
	}

	authorities := make([]string, 0, len(p.Authorities))
	for _, a := range p.Authorities {
		if a = strings.TrimSpace(a); a != "" {
			authorities = append(authorities, a)
		}
	}

	return User{
		id:           p.ID,
		email:        email,
		username:     username,
		authorities:  authorities,
		passwordHash: p.PasswordHash,
		externalID:   strings.TrimSpace(p.ExternalID),
		totpSecret:   p.TOTPSecret,
		active:       p.Active,
	}, nil
}

func (u User) ID() string           { return u.id }
func (u User) Email() string        { return u.email }
func (u User) Username() string     { return u.username }
func (u User) PasswordHash() string { return u.passwordHash }
func (u User) ExternalID() string   { return u.externalID }
func (u User) TOTPSecret() string   { return u.totpSecret }
func (u User) Active() bool         { return u.active }

// Authorities returns a copy of the user's granted authorities.
func (u User) Authorities() []string {
	out := make([]string, len(u.authorities))
	copy(out, u.authorities)
	return out
}

func (u User) HasLegacyPassword() bool { return u.passwordHash != "" }
func (u User) HasExternalLink() bool   { return u.externalID != "" }
func (u User) TOTPEnabled() bool       { return u.totpSecret != "" }

// WithExternalID returns a copy linked to externalID.
func (u User) WithExternalID(externalID string) (User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return User{}, fmt.Errorf("%w: empty external id", ErrValidation)
	}
	out := u
	out.authorities = u.Authorities()
	out.externalID = externalID
	return out, nil
}

// WithoutPassword returns a copy with the legacy hash cleared.
func (u User) WithoutPassword() User {
	out := u
	out.authorities = u.Authorities()
	out.passwordHash = ""
	return out
}

// Params returns the fields of u as [UserParams].
func (u User) Params() UserParams {
	return UserParams{
		ID:           u.id,
		Email:        u.email,
		Username:     u.username,
		Authorities:  u.Authorities(),
		PasswordHash: u.passwordHash,
		ExternalID:   u.externalID,
		TOTPSecret:   u.totpSecret,
		Active:       u.active,
	}
}

// UserDirectory is the persistence port for user records. Lookups must return
// (or wrap) [ErrUserNotFound] when no record matches.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	LinkExternalIdentity(ctx context.Context, email, externalID string) error
	ClearPasswordHash(ctx context.Context, email string) error
	SetTOTPSecret(ctx context.Context, email, secret string) error
	DeleteTOTPSecret(ctx context.Context, email string) error
}

// IdentityProvider is the port to the external identity provider.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, email, password string, profile map[string]string) (string, error)
	DeleteIdentity(ctx context.Context, externalID string) error
	VerifyPassword(ctx context.Context, externalID, email, password string) (bool, error)
	VerifyToken(ctx context.Context, idToken string) (Assertion, error)
}

// Assertion is a verified statement from the identity provider.
type Assertion struct {
	Subject       string
	Email         string
	EmailVerified bool
	Profile       map[string]string
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh]. RefreshToken
// is empty when the caller did not ask to be remembered.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	RefreshTTL   time.Duration
}

// MigrationState is the derived migration status of an account.
type MigrationState string

const (
	MigrationIntegrityError  MigrationState = "integrity_error"
	MigrationRequired        MigrationState = "migration_required"
	MigrationAlreadyMigrated MigrationState = "already_migrated"
	MigrationLinkRequired    MigrationState = "link_required"
	MigrationNewUser         MigrationState = "new_user"
)

// MigrationOutcome is returned by [Engine.AuthenticateExternal] and
// [Engine.MigrateLegacyAccount].
type MigrationOutcome struct {
	AccessToken     string
	ExternalID      string
	State           MigrationState
	AlreadyMigrated bool
}

// Principal is the authenticated caller resolved from an access token and a
// fresh directory read.
type Principal struct {
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	Authorities []string  `json:"authorities"`
	ExternalID  string    `json:"externalId,omitempty"`
	TOTPEnabled bool      `json:"totpEnabled"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// TOTPSetup is the pending secret handed to the user during enrollment.
type TOTPSetup struct {
	Secret string
	URI    string
}

// AuditEvent is the canonical audit event.
type AuditEvent = internalaudit.Event

// AuditOutcome is the outcome field of [AuditEvent].
type AuditOutcome = internalaudit.Outcome

const (
	AuditSuccess = internalaudit.OutcomeSuccess
	AuditFailure = internalaudit.OutcomeFailure
)

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// LogSink writes audit events through zerolog.
type LogSink = internalaudit.LogSink

// NewChannelSink creates a channel-backed sink.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewLogSink creates a sink that logs every event on logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return internalaudit.NewLogSink(logger)
}

// MetricID names one engine counter.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited    = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess      = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure      = internalmetrics.MetricRefreshFailure
	MetricRefreshRateLimited  = internalmetrics.MetricRefreshRateLimited
	MetricSessionCreated      = internalmetrics.MetricSessionCreated
	MetricLogout              = internalmetrics.MetricLogout
	MetricMigrationSuccess    = internalmetrics.MetricMigrationSuccess
	MetricMigrationFailure    = internalmetrics.MetricMigrationFailure
	MetricIntegrityConflict   = internalmetrics.MetricIntegrityConflict
	MetricExternalAuthSuccess = internalmetrics.MetricExternalAuthSuccess
	MetricExternalAuthFailure = internalmetrics.MetricExternalAuthFailure
	MetricUserProvisioned     = internalmetrics.MetricUserProvisioned
	MetricGateAllow           = internalmetrics.MetricGateAllow
	MetricGateDeny            = internalmetrics.MetricGateDeny
	MetricTOTPSuccess         = internalmetrics.MetricTOTPSuccess
	MetricTOTPFailure         = internalmetrics.MetricTOTPFailure
	MetricTOTPEnabled         = internalmetrics.MetricTOTPEnabled
	MetricTOTPDisabled        = internalmetrics.MetricTOTPDisabled
	MetricValidateLatency     = internalmetrics.MetricValidateLatency
)

// MetricsSnapshot is a point-in-time copy of engine counters.
type MetricsSnapshot = internalmetrics.Snapshot
