package authbridge

import (
	"context"
	"errors"

	"github.com/MrEthical07/authbridge/internal/flows"
	"github.com/MrEthical07/authbridge/internal/limiters"
	"github.com/MrEthical07/authbridge/internal/stores"
	"github.com/MrEthical07/authbridge/jwt"
	"github.com/MrEthical07/authbridge/session"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	hooks := flows.Hooks{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		Warn: func(msg string, fields ...any) {
			e.logger.Warn().Fields(fields).Msg(msg)
		},
		Error: func(msg string, fields ...any) {
			e.logger.Error().Fields(fields).Msg(msg)
		},
	}

	var verifyExternal func(context.Context, string, string, string) (bool, error)
	if e.idp != nil {
		verifyExternal = e.idp.VerifyPassword
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			RefreshTTL:             e.config.JWT.RefreshTTL,
			ClientIPFromContext:    ClientIPFromContext,
			CheckLoginRate:         e.limiter.CheckLogin,
			IncrementLoginRate:     e.limiter.IncrementLogin,
			ResetLoginRate:         e.limiter.ResetLogin,
			FindUser:               e.findUserRecord,
			MatchLegacyPassword:    e.legacy.Matches,
			VerifyExternalPassword: verifyExternal,
			IssueAccessToken:       e.issueAccessToken,
			NewRefreshToken:        jwt.NewRefreshToken,
			EvictPriorSession: func(ctx context.Context, identity string) error {
				_, err := e.sessions.EvictPriorSession(ctx, identity)
				return err
			},
			SaveSession: e.sessions.SaveSession,
			Hooks:       hooks,
			Metrics: flows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				SessionCreated:   int(MetricSessionCreated),
			},
			Events: flows.LoginEvents{
				LoginSuccess:     auditEventLoginSuccess,
				LoginFailure:     auditEventLoginFailure,
				LoginRateLimited: auditEventLoginRateLimited,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				LoginRateLimited:   ErrLoginRateLimited,
				DataIntegrity:      ErrDataIntegrity,
				System:             ErrSystem,
				UserNotFound:       ErrUserNotFound,
			},
		},
		Refresh: flows.RefreshDeps{
			RefreshTTL:          e.config.JWT.RefreshTTL,
			ClientIPFromContext: ClientIPFromContext,
			CheckRefreshRate:    e.limiter.CheckRefresh,
			ValidateSession:     e.sessions.ValidateSession,
			RevokeSession:       e.sessions.RevokeSession,
			ConsumeSession:      e.sessions.ConsumeSession,
			SaveSession:         e.sessions.SaveSession,
			NewRefreshToken:     jwt.NewRefreshToken,
			FindUser:            e.findUserRecord,
			IssueAccessToken:    e.issueAccessToken,
			Hooks:               hooks,
			Metrics: flows.RefreshMetrics{
				RefreshSuccess:     int(MetricRefreshSuccess),
				RefreshFailure:     int(MetricRefreshFailure),
				RefreshRateLimited: int(MetricRefreshRateLimited),
				SessionCreated:     int(MetricSessionCreated),
			},
			Events: flows.RefreshEvents{
				RefreshSuccess:     auditEventRefreshSuccess,
				RefreshInvalid:     auditEventRefreshInvalid,
				RefreshRateLimited: auditEventRefreshRateLimited,
			},
			Errors: flows.RefreshErrors{
				EngineNotReady:      ErrEngineNotReady,
				InvalidRefreshToken: ErrInvalidRefreshToken,
				RefreshRateLimited:  ErrRefreshRateLimited,
				System:              ErrSystem,
				UserNotFound:        ErrUserNotFound,
				StoreUnavailable:    session.ErrRedisUnavailable,
			},
		},
		Logout: flows.LogoutDeps{
			ValidFormat:      jwt.ValidRefreshTokenFormat,
			RevokeSession:    e.sessions.RevokeSession,
			Hooks:            hooks,
			MetricLogout:     int(MetricLogout),
			EventLogout:      auditEventLogout,
			StoreUnavailable: session.ErrRedisUnavailable,
			System:           ErrSystem,
		},
		Migration: e.migrationDeps(hooks),
		TOTP:      e.totpDeps(hooks),
	}
}

func (e *Engine) migrationDeps(hooks flows.Hooks) flows.MigrationDeps {
	deps := flows.MigrationDeps{
		FindUser:             e.findUserRecord,
		ProvisionUser:        e.provisionUser,
		LinkExternalIdentity: e.directory.LinkExternalIdentity,
		ClearPasswordHash:    e.directory.ClearPasswordHash,
		MatchLegacyPassword:  e.legacy.Matches,
		IssueAccessToken:     e.issueAccessToken,
		Hooks:                hooks,
		Metrics: flows.MigrationMetrics{
			MigrationSuccess:    int(MetricMigrationSuccess),
			MigrationFailure:    int(MetricMigrationFailure),
			IntegrityConflict:   int(MetricIntegrityConflict),
			ExternalAuthSuccess: int(MetricExternalAuthSuccess),
			ExternalAuthFailed:  int(MetricExternalAuthFailure),
			UserProvisioned:     int(MetricUserProvisioned),
		},
		Events: flows.MigrationEvents{
			MigrationSuccess:    auditEventMigrationSuccess,
			MigrationFailure:    auditEventMigrationFailure,
			ExternalAuthSuccess: auditEventExternalAuthSuccess,
			ExternalAuthFailure: auditEventExternalAuthFailure,
		},
		Errors: flows.MigrationErrors{
			EngineNotReady:     ErrEngineNotReady,
			Validation:         ErrValidation,
			EmailNotVerified:   ErrEmailNotVerified,
			InvalidCredentials: ErrInvalidCredentials,
			MigrationRequired:  ErrMigrationRequired,
			DataIntegrity:      ErrDataIntegrity,
			System:             ErrSystem,
			UserNotFound:       ErrUserNotFound,
		},
	}
	if e.idp != nil {
		deps.CreateIdentity = e.idp.CreateIdentity
		deps.DeleteIdentity = e.idp.DeleteIdentity
		deps.VerifyExternalPassword = e.idp.VerifyPassword
	}
	return deps
}

func (e *Engine) totpDeps(hooks flows.Hooks) flows.TOTPDeps {
	return flows.TOTPDeps{
		SetupTTL:         e.config.TOTP.SetupTTL,
		MaxSetupAttempts: e.config.TOTP.MaxSetupAttempts,
		FindUser:         e.findUserRecord,
		SetTOTPSecret:    e.directory.SetTOTPSecret,
		DeleteTOTPSecret: e.directory.DeleteTOTPSecret,
		GenerateSecret:   e.totp.GenerateSecretKey,
		ProvisionURI: func(secret, account string) string {
			return e.totp.GenerateTOTPURI(secret, account, e.config.TOTP.Issuer)
		},
		VerifyCode:  e.totp.VerifyTOTP,
		SavePending: e.totpSetups.Save,
		GetPending: func(ctx context.Context, identity string) (string, error) {
			rec, err := e.totpSetups.Get(ctx, identity)
			if err != nil {
				return "", err
			}
			return rec.Secret, nil
		},
		ConsumePending:       e.totpSetups.Consume,
		RecordPendingFailure: e.totpSetups.RecordFailure,
		DiscardPending:       e.totpSetups.Delete,
		MatchCode: func(secret, code string) (int64, bool) {
			return e.totp.MatchStep(secret, code, e.now())
		},
		ClaimStep: func(ctx context.Context, identity string, step int64) (bool, error) {
			return e.totpLimit.ClaimStep(ctx, identity, step)
		},
		CheckCodeRate: func(ctx context.Context, identity string) error {
			return totpLimitErr(e.totpLimit.Check(ctx, identity))
		},
		RecordCodeFailure: func(ctx context.Context, identity string) error {
			return totpLimitErr(e.totpLimit.RecordFailure(ctx, identity))
		},
		ResetCodeRate: e.totpLimit.Reset,
		Hooks:         hooks,
		Metrics: flows.TOTPMetrics{
			TOTPSuccess:  int(MetricTOTPSuccess),
			TOTPFailure:  int(MetricTOTPFailure),
			TOTPEnabled:  int(MetricTOTPEnabled),
			TOTPDisabled: int(MetricTOTPDisabled),
		},
		Events: flows.TOTPEvents{
			SetupRequested: auditEventTOTPSetupRequested,
			Enabled:        auditEventTOTPEnabled,
			Disabled:       auditEventTOTPDisabled,
			Success:        auditEventTOTPSuccess,
			Failure:        auditEventTOTPFailure,
		},
		Errors: flows.TOTPErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			InvalidCode:        ErrTOTPInvalidCode,
			AlreadyEnabled:     ErrTOTPAlreadyEnabled,
			NotEnabled:         ErrTOTPNotEnabled,
			SetupNotFound:      ErrTOTPSetupNotFound,
			AttemptsExceeded:   ErrTOTPAttemptsExceeded,
			RateLimited:        ErrTOTPRateLimited,
			System:             ErrSystem,
			UserNotFound:       ErrUserNotFound,
			PendingNotFound:    stores.ErrTOTPSetupNotFound,
			PendingExpired:     stores.ErrTOTPSetupExpired,
		},
	}
}

func (e *Engine) findUserRecord(ctx context.Context, email string) (flows.UserRecord, error) {
	user, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		return flows.UserRecord{}, err
	}
	return toUserRecord(user), nil
}

func (e *Engine) provisionUser(ctx context.Context, a flows.Assertion) (flows.UserRecord, error) {
	user, err := NewUser(UserParams{
		Email:      a.Email,
		Username:   a.Profile["username"],
		ExternalID: a.Subject,
		Active:     true,
	})
	if err != nil {
		return flows.UserRecord{}, err
	}
	created, err := e.directory.CreateUser(ctx, user)
	if err != nil {
		return flows.UserRecord{}, err
	}
	return toUserRecord(created), nil
}

func (e *Engine) issueAccessToken(u flows.UserRecord) (string, error) {
	return e.tokens.CreateAccessToken(jwt.Subject{
		Email:       u.Email,
		Username:    u.Username,
		Authorities: u.Authorities,
	})
}

func toUserRecord(u User) flows.UserRecord {
	return flows.UserRecord{
		ID:           u.ID(),
		Email:        u.Email(),
		Username:     u.Username(),
		Authorities:  u.Authorities(),
		PasswordHash: u.PasswordHash(),
		ExternalID:   u.ExternalID(),
		TOTPSecret:   u.TOTPSecret(),
		Active:       u.Active(),
	}
}

func totpLimitErr(err error) error {
	if errors.Is(err, limiters.ErrTOTPRateLimited) {
		return ErrTOTPRateLimited
	}
	return err
}
