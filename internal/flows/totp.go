package flows

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TOTPSetupResult carries a freshly generated, still pending secret.
type TOTPSetupResult struct {
	Secret string
	URI    string
}

// TOTPMetrics carries metric IDs needed by the TOTP flows.
type TOTPMetrics struct {
	TOTPSuccess  int
	TOTPFailure  int
	TOTPEnabled  int
	TOTPDisabled int
}

// TOTPEvents carries audit event names used by the TOTP flows.
type TOTPEvents struct {
	SetupRequested string
	Enabled        string
	Disabled       string
	Success        string
	Failure        string
}

// TOTPErrors carries host-level sentinel errors used by the TOTP flows.
type TOTPErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	InvalidCode        error
	AlreadyEnabled     error
	NotEnabled         error
	SetupNotFound      error
	AttemptsExceeded   error
	RateLimited        error
	System             error
	UserNotFound       error
	PendingNotFound    error
	PendingExpired     error
}

// TOTPDeps captures dependencies for the TOTP secret lifecycle.
type TOTPDeps struct {
	SetupTTL         time.Duration
	MaxSetupAttempts int

	FindUser         func(context.Context, string) (UserRecord, error)
	SetTOTPSecret    func(ctx context.Context, email, secret string) error
	DeleteTOTPSecret func(context.Context, string) error

	GenerateSecret func() (string, error)
	ProvisionURI   func(secret, account string) string
	VerifyCode     func(secret, code string) bool

	SavePending          func(ctx context.Context, identity, secret string, ttl time.Duration) error
	GetPending           func(context.Context, string) (string, error)
	ConsumePending       func(ctx context.Context, identity, secret string) (bool, error)
	RecordPendingFailure func(ctx context.Context, identity string, maxAttempts int) (bool, error)
	// Optional. Drops a pending setup left behind once a secret is committed.
	DiscardPending func(context.Context, string) (bool, error)

	// Optional. With both set, a code against an enabled secret is accepted
	// once per time step.
	MatchCode func(secret, code string) (int64, bool)
	ClaimStep func(ctx context.Context, identity string, step int64) (bool, error)

	// Optional. Bound failed codes against an enabled secret.
	CheckCodeRate     func(context.Context, string) error
	RecordCodeFailure func(context.Context, string) error
	ResetCodeRate     func(context.Context, string) error

	Hooks
	Metrics TOTPMetrics
	Events  TOTPEvents
	Errors  TOTPErrors
}

func (d TOTPDeps) loadUser(ctx context.Context, identity string) (UserRecord, error) {
	if identity == "" {
		return UserRecord{}, d.Errors.InvalidCredentials
	}
	user, err := d.FindUser(ctx, identity)
	if err != nil {
		if d.Errors.UserNotFound != nil && errors.Is(err, d.Errors.UserNotFound) {
			return UserRecord{}, d.Errors.InvalidCredentials
		}
		return UserRecord{}, fmt.Errorf("%w: %v", d.Errors.System, err)
	}
	if !user.Active {
		return UserRecord{}, d.Errors.InvalidCredentials
	}
	return user, nil
}

// RunBeginTOTPSetup generates a secret and parks it as pending for the user.
// Nothing is committed until RunConfirmTOTPSetup succeeds.
func RunBeginTOTPSetup(ctx context.Context, email string, deps TOTPDeps) (*TOTPSetupResult, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.FindUser == nil || deps.GenerateSecret == nil || deps.ProvisionURI == nil || deps.SavePending == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	user, err := deps.loadUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user.TOTPSecret != "" {
		return nil, deps.Errors.AlreadyEnabled
	}

	secret, err := deps.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
	}
	if err := deps.SavePending(ctx, identity, secret, deps.SetupTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.System, err)
	}

	deps.EmitAudit(ctx, deps.Events.SetupRequested, true, identity, nil, nil)
	return &TOTPSetupResult{
		Secret: secret,
		URI:    deps.ProvisionURI(secret, identity),
	}, nil
}

// RunConfirmTOTPSetup verifies code against the pending secret and commits it.
func RunConfirmTOTPSetup(ctx context.Context, email, code string, deps TOTPDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.FindUser == nil ||
		deps.GetPending == nil ||
		deps.ConsumePending == nil ||
		deps.VerifyCode == nil ||
		deps.SetTOTPSecret == nil {
		return deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	user, err := deps.loadUser(ctx, identity)
	if err != nil {
		return err
	}
	if user.TOTPSecret != "" {
		if deps.DiscardPending != nil {
			if _, err := deps.DiscardPending(ctx, identity); err != nil {
				deps.Warn("stale totp setup cleanup failed", "identity", identity, "error", err.Error())
			}
		}
		return deps.Errors.AlreadyEnabled
	}

	secret, err := deps.GetPending(ctx, identity)
	if err != nil {
		if deps.pendingGone(err) {
			return deps.Errors.SetupNotFound
		}
		return fmt.Errorf("%w: %v", deps.Errors.System, err)
	}

	if !deps.VerifyCode(secret, code) {
		deps.MetricInc(deps.Metrics.TOTPFailure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, identity, deps.Errors.InvalidCode, reason("setup_code_mismatch"))
		if deps.RecordPendingFailure != nil {
			exceeded, recErr := deps.RecordPendingFailure(ctx, identity, deps.MaxSetupAttempts)
			if recErr != nil {
				deps.Warn("totp setup failure tracking failed", "identity", identity, "error", recErr.Error())
			}
			if exceeded {
				return deps.Errors.AttemptsExceeded
			}
		}
		return deps.Errors.InvalidCode
	}

	consumed, err := deps.ConsumePending(ctx, identity, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.System, err)
	}
	if !consumed {
		return deps.Errors.SetupNotFound
	}
	if err := deps.SetTOTPSecret(ctx, identity, secret); err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.System, err)
	}

	deps.MetricInc(deps.Metrics.TOTPEnabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, identity, nil, nil)
	return nil
}

func (d TOTPDeps) pendingGone(err error) bool {
	if d.Errors.PendingNotFound != nil && errors.Is(err, d.Errors.PendingNotFound) {
		return true
	}
	return d.Errors.PendingExpired != nil && errors.Is(err, d.Errors.PendingExpired)
}

// RunDisableTOTP removes the committed secret after checking a current code.
func RunDisableTOTP(ctx context.Context, email, code string, deps TOTPDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.FindUser == nil || deps.VerifyCode == nil || deps.DeleteTOTPSecret == nil {
		return deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	user, err := deps.loadUser(ctx, identity)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return deps.Errors.NotEnabled
	}
	if err := deps.checkCommittedCode(ctx, identity, user.TOTPSecret, code, "disable_code_mismatch"); err != nil {
		return err
	}
	if err := deps.DeleteTOTPSecret(ctx, identity); err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.System, err)
	}

	deps.MetricInc(deps.Metrics.TOTPDisabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, identity, nil, nil)
	return nil
}

// RunVerifyTOTP checks code against the user's committed secret.
func RunVerifyTOTP(ctx context.Context, email, code string, deps TOTPDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.FindUser == nil || deps.VerifyCode == nil {
		return deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	user, err := deps.loadUser(ctx, identity)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return deps.Errors.NotEnabled
	}
	if err := deps.checkCommittedCode(ctx, identity, user.TOTPSecret, code, "code_mismatch"); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.TOTPSuccess)
	deps.EmitAudit(ctx, deps.Events.Success, true, identity, nil, nil)
	return nil
}

// checkCommittedCode verifies code against an enabled secret under the
// per-identity failure limit.
func (d TOTPDeps) checkCommittedCode(ctx context.Context, identity, secret, code, mismatch string) error {
	if d.CheckCodeRate != nil {
		if err := d.CheckCodeRate(ctx, identity); err != nil {
			if d.Errors.RateLimited != nil && errors.Is(err, d.Errors.RateLimited) {
				d.MetricInc(d.Metrics.TOTPFailure)
				d.EmitAudit(ctx, d.Events.Failure, false, identity, err, reason("rate_limited"))
				return d.Errors.RateLimited
			}
			return fmt.Errorf("%w: %v", d.Errors.System, err)
		}
	}

	var (
		step int64
		ok   bool
	)
	if d.MatchCode != nil {
		step, ok = d.MatchCode(secret, code)
	} else {
		ok = d.VerifyCode(secret, code)
	}
	if !ok {
		return d.rejectCode(ctx, identity, mismatch)
	}
	if d.MatchCode != nil && d.ClaimStep != nil {
		fresh, err := d.ClaimStep(ctx, identity, step)
		if err != nil {
			return fmt.Errorf("%w: %v", d.Errors.System, err)
		}
		if !fresh {
			return d.rejectCode(ctx, identity, "code_replayed")
		}
	}

	if d.ResetCodeRate != nil {
		_ = d.ResetCodeRate(ctx, identity)
	}
	return nil
}

func (d TOTPDeps) rejectCode(ctx context.Context, identity, why string) error {
	d.MetricInc(d.Metrics.TOTPFailure)
	d.EmitAudit(ctx, d.Events.Failure, false, identity, d.Errors.InvalidCode, reason(why))
	if d.RecordCodeFailure != nil {
		if err := d.RecordCodeFailure(ctx, identity); err != nil &&
			(d.Errors.RateLimited == nil || !errors.Is(err, d.Errors.RateLimited)) {
			return fmt.Errorf("%w: %v", d.Errors.System, err)
		}
	}
	return d.Errors.InvalidCode
}
