package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess     int
	RefreshFailure     int
	RefreshRateLimited int
	SessionCreated     int
}

// RefreshEvents carries audit event names used by the refresh flow.
type RefreshEvents struct {
	RefreshSuccess     string
	RefreshInvalid     string
	RefreshRateLimited string
}

// RefreshErrors carries host-level sentinel errors used by the refresh flow.
type RefreshErrors struct {
	EngineNotReady      error
	InvalidRefreshToken error
	RefreshRateLimited  error
	System              error
	UserNotFound        error
	StoreUnavailable    error
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	RefreshTTL time.Duration

	ClientIPFromContext func(context.Context) string
	CheckRefreshRate    func(context.Context, string) error

	ValidateSession func(ctx context.Context, token, ip string) (string, error)
	RevokeSession   func(context.Context, string) error
	// ConsumeSession, when set, replaces RevokeSession for the rotation step
	// and reports whether this call won the token.
	ConsumeSession  func(ctx context.Context, token, identity string) (bool, error)
	SaveSession     func(ctx context.Context, token, identity, ip string, ttl time.Duration) error
	NewRefreshToken func() (string, error)

	FindUser         func(context.Context, string) (UserRecord, error)
	IssueAccessToken func(UserRecord) (string, error)

	Hooks
	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

// RunRefresh rotates a refresh session and issues a fresh token pair. The old
// token is revoked before the new one is saved.
func RunRefresh(ctx context.Context, token string, deps RefreshDeps) (*LoginResult, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidateSession == nil ||
		deps.RevokeSession == nil ||
		deps.SaveSession == nil ||
		deps.NewRefreshToken == nil ||
		deps.FindUser == nil ||
		deps.IssueAccessToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)

	if deps.CheckRefreshRate != nil {
		if err := deps.CheckRefreshRate(ctx, ip); err != nil {
			deps.MetricInc(deps.Metrics.RefreshRateLimited)
			deps.EmitAudit(ctx, deps.Events.RefreshRateLimited, false, "", deps.Errors.RefreshRateLimited, nil)
			return nil, deps.Errors.RefreshRateLimited
		}
	}

	invalid := func(identity, why string, cause error) error {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshInvalid, false, identity, cause, reason(why))
		return deps.Errors.InvalidRefreshToken
	}
	system := func(identity string, cause error) error {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.EmitAudit(ctx, deps.Events.RefreshInvalid, false, identity, cause, reason("backend_error"))
		return fmt.Errorf("%w: %v", deps.Errors.System, cause)
	}

	identity, err := deps.ValidateSession(ctx, token, ip)
	if err != nil {
		if deps.Errors.StoreUnavailable != nil && errors.Is(err, deps.Errors.StoreUnavailable) {
			return nil, system("", err)
		}
		return nil, invalid("", "session_invalid", err)
	}

	user, err := deps.FindUser(ctx, identity)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			if revokeErr := deps.RevokeSession(ctx, token); revokeErr != nil {
				deps.Warn("orphan refresh session revoke failed", "identity", identity, "error", revokeErr.Error())
			}
			return nil, invalid(identity, "user_not_found", err)
		}
		return nil, system(identity, err)
	}
	if !user.Active {
		if revokeErr := deps.RevokeSession(ctx, token); revokeErr != nil {
			deps.Warn("inactive user refresh session revoke failed", "identity", identity, "error", revokeErr.Error())
		}
		return nil, invalid(identity, "inactive", nil)
	}

	if deps.ConsumeSession != nil {
		won, err := deps.ConsumeSession(ctx, token, identity)
		if err != nil {
			return nil, system(identity, err)
		}
		if !won {
			return nil, invalid(identity, "session_consumed", nil)
		}
	} else if err := deps.RevokeSession(ctx, token); err != nil {
		return nil, system(identity, err)
	}

	next, err := deps.NewRefreshToken()
	if err != nil {
		return nil, system(identity, err)
	}
	if err := deps.SaveSession(ctx, next, identity, ip, deps.RefreshTTL); err != nil {
		return nil, system(identity, err)
	}
	deps.MetricInc(deps.Metrics.SessionCreated)

	access, err := deps.IssueAccessToken(user)
	if err != nil {
		return nil, system(identity, err)
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.EmitAudit(ctx, deps.Events.RefreshSuccess, true, identity, nil, nil)

	return &LoginResult{
		Identity:     identity,
		AccessToken:  access,
		RefreshToken: next,
		RefreshTTL:   deps.RefreshTTL,
	}, nil
}
