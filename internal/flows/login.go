package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LoginResult is the flow-local login and refresh response shape.
type LoginResult struct {
	Identity     string
	AccessToken  string
	RefreshToken string
	RefreshTTL   time.Duration
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	SessionCreated   int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
	DataIntegrity      error
	System             error
	UserNotFound       error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	RefreshTTL time.Duration

	ClientIPFromContext func(context.Context) string

	CheckLoginRate     func(context.Context, string, string) error
	IncrementLoginRate func(context.Context, string, string) error
	ResetLoginRate     func(context.Context, string) error

	FindUser               func(context.Context, string) (UserRecord, error)
	MatchLegacyPassword    func(raw, encoded string) bool
	VerifyExternalPassword func(ctx context.Context, externalID, email, password string) (bool, error)

	IssueAccessToken  func(UserRecord) (string, error)
	NewRefreshToken   func() (string, error)
	EvictPriorSession func(context.Context, string) error
	SaveSession       func(ctx context.Context, token, identity, ip string, ttl time.Duration) error

	Hooks
	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies credentials and issues an access token, plus a remembered
// refresh session when remember is set.
func RunLogin(ctx context.Context, email, password string, remember bool, deps LoginDeps) (*LoginResult, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.FindUser == nil ||
		deps.MatchLegacyPassword == nil ||
		deps.IssueAccessToken == nil ||
		deps.NewRefreshToken == nil ||
		deps.SaveSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	ip := deps.ClientIPFromContext(ctx)

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identity, ip); err != nil {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, identity, deps.Errors.LoginRateLimited, reason("rate_limited"))
			return nil, deps.Errors.LoginRateLimited
		}
	}

	fail := func(why string) error {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, identity, ip); err != nil {
				deps.MetricInc(deps.Metrics.LoginRateLimited)
				deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, identity, deps.Errors.LoginRateLimited, reason(why))
				return deps.Errors.LoginRateLimited
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identity, deps.Errors.InvalidCredentials, reason(why))
		return deps.Errors.InvalidCredentials
	}

	if identity == "" || password == "" {
		return nil, fail("empty_credentials")
	}

	user, err := deps.FindUser(ctx, identity)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			return nil, fail("user_not_found")
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identity, err, reason("directory_error"))
		return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
	}
	if !user.Active {
		return nil, fail("inactive")
	}

	switch {
	case user.HasLegacyPassword() && user.HasExternalLink():
		deps.Error("account has both legacy password and external link", "identity", identity)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identity, deps.Errors.DataIntegrity, reason("integrity_conflict"))
		return nil, deps.Errors.DataIntegrity
	case user.HasLegacyPassword():
		if !deps.MatchLegacyPassword(password, user.PasswordHash) {
			return nil, fail("password_mismatch")
		}
	case user.HasExternalLink():
		if deps.VerifyExternalPassword == nil {
			return nil, fail("external_unavailable")
		}
		ok, err := deps.VerifyExternalPassword(ctx, user.ExternalID, identity, password)
		if err != nil {
			deps.Warn("external password verification failed", "identity", identity, "error", err.Error())
			deps.MetricInc(deps.Metrics.LoginFailure)
			deps.EmitAudit(ctx, deps.Events.LoginFailure, false, identity, err, reason("idp_error"))
			return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
		}
		if !ok {
			return nil, fail("password_mismatch")
		}
	default:
		return nil, fail("no_credential")
	}
	password = ""

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, identity); err != nil {
			deps.Warn("login rate reset failed", "identity", identity, "error", err.Error())
		}
	}

	access, err := deps.IssueAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
	}

	result := &LoginResult{
		Identity:    identity,
		AccessToken: access,
	}

	if remember {
		if deps.EvictPriorSession != nil {
			if err := deps.EvictPriorSession(ctx, identity); err != nil {
				return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
			}
		}
		token, err := deps.NewRefreshToken()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
		}
		if err := deps.SaveSession(ctx, token, identity, ip, deps.RefreshTTL); err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
		}
		deps.MetricInc(deps.Metrics.SessionCreated)
		result.RefreshToken = token
		result.RefreshTTL = deps.RefreshTTL
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, identity, nil, func() map[string]string {
		if remember {
			return map[string]string{"remember": "true"}
		}
		return nil
	})

	return result, nil
}
