package authbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/authbridge/internal/audit"
	"github.com/MrEthical07/authbridge/internal/flows"
	"github.com/MrEthical07/authbridge/internal/limiters"
	internalmetrics "github.com/MrEthical07/authbridge/internal/metrics"
	"github.com/MrEthical07/authbridge/internal/rate"
	"github.com/MrEthical07/authbridge/internal/stores"
	"github.com/MrEthical07/authbridge/jwt"
	"github.com/MrEthical07/authbridge/password"
	"github.com/MrEthical07/authbridge/session"
	"github.com/MrEthical07/authbridge/totp"
	"github.com/rs/zerolog"
)

// Engine is the authentication core. Build it with [New] ... [Builder.Build].
// All methods are safe for concurrent use.
type Engine struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time

	directory UserDirectory
	idp       IdentityProvider

	tokens     *jwt.Manager
	legacy     *password.Legacy
	totp       *totp.Engine
	sessions   *session.Store
	limiter    *rate.Limiter
	totpSetups *stores.TOTPSetupStore
	totpLimit  *limiters.TOTPLimiter

	audit   *internalaudit.Dispatcher
	metrics *internalmetrics.Metrics

	flowDeps flows.Deps
}

// Login verifies email and password and issues an access token. When remember
// is set, the prior remembered session for the account is evicted and a new
// refresh token bound to the context IP (see [WithClientIP]) is returned.
func (e *Engine) Login(ctx context.Context, email, password string, remember bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunLogin(ctx, email, password, remember, e.flowDeps.Login)
	if err != nil {
		return nil, err
	}
	return toLoginResult(res), nil
}

// Refresh rotates token: the old session is revoked and a new pair issued.
// The context IP must equal the IP the session was bound to.
func (e *Engine) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunRefresh(ctx, token, e.flowDeps.Refresh)
	if err != nil {
		return nil, err
	}
	return toLoginResult(res), nil
}

// Logout revokes token. Absent, malformed, or expired tokens are not errors;
// only session store outages are returned.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunLogout(ctx, token, e.flowDeps.Logout)
}

// ValidateAccess verifies an access token signature and lifetime. The error
// wraps both [ErrUnauthorized] and the token category sentinel
// ([jwt.ErrExpiredToken], [jwt.ErrInvalidToken], [jwt.ErrUnexpectedToken]).
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	claims, err := e.tokens.ParseToken(token)

	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

// ResolvePrincipal loads the account behind claims so authorities reflect the
// directory rather than the token.
func (e *Engine) ResolvePrincipal(ctx context.Context, claims *jwt.AccessClaims) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if claims == nil || claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	user, err := e.directory.FindByEmail(ctx, flows.NormalizeIdentity(claims.Subject))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	if !user.Active() {
		return nil, ErrUnauthorized
	}

	p := &Principal{
		Email:       user.Email(),
		Username:    user.Username(),
		Authorities: user.Authorities(),
		ExternalID:  user.ExternalID(),
		TOTPEnabled: user.TOTPEnabled(),
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// RecordGateDecision counts and audits one request-gate outcome.
func (e *Engine) RecordGateDecision(ctx context.Context, allowed bool, identity, reason string) {
	if e == nil {
		return
	}
	eventType := auditEventGateDeny
	if allowed {
		e.metricInc(MetricGateAllow)
		eventType = auditEventGateAllow
	} else {
		e.metricInc(MetricGateDeny)
	}
	e.emitAudit(ctx, eventType, allowed, identity, nil, func() map[string]string {
		if reason == "" {
			return nil
		}
		return map[string]string{"reason": reason}
	})
}

// LoginRetryAfter reports how long until the login window for email resets.
func (e *Engine) LoginRetryAfter(ctx context.Context, email string) time.Duration {
	if e == nil {
		return 0
	}
	d, err := e.limiter.LoginRetryAfter(ctx, flows.NormalizeIdentity(email))
	if err != nil {
		e.logger.Warn().Err(err).Msg("login retry-after lookup failed")
		return 0
	}
	return d
}

// Ping reports session store round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}

// MetricsSnapshot returns a point-in-time copy of engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return internalmetrics.New(internalmetrics.Config{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered returns the number of audit events handed to the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Delivered()
}

// AuditFailed returns the number of audit events lost to a panicking sink.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failed()
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func toLoginResult(res *flows.LoginResult) *LoginResult {
	return &LoginResult{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		RefreshTTL:   res.RefreshTTL,
	}
}
