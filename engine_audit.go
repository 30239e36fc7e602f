package authbridge

import (
	"context"
	"errors"

	"github.com/MrEthical07/authbridge/jwt"
	"github.com/MrEthical07/authbridge/session"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshRateLimited  = "refresh_rate_limited"
	auditEventLogout              = "logout"
	auditEventMigrationSuccess    = "migration_success"
	auditEventMigrationFailure    = "migration_failure"
	auditEventExternalAuthSuccess = "external_auth_success"
	auditEventExternalAuthFailure = "external_auth_failure"
	auditEventTOTPSetupRequested  = "totp_setup_requested"
	auditEventTOTPEnabled         = "totp_enabled"
	auditEventTOTPDisabled        = "totp_disabled"
	auditEventTOTPSuccess         = "totp_success"
	auditEventTOTPFailure         = "totp_failure"
	auditEventGateAllow           = "gate_allow"
	auditEventGateDeny            = "gate_deny"
)

// AuditErrorCode is the stable error label carried on failed audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrMigrationRequired  AuditErrorCode = "migration_required"
	auditErrIntegrity          AuditErrorCode = "integrity_conflict"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identity string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Outcome:   auditOutcome(success),
		Identity:  identity,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
	if reason, ok := metadata["reason"]; ok {
		event.Reason = reason
		delete(metadata, "reason")
	}
	if len(metadata) > 0 {
		event.Metadata = metadata
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// retainAuditEvent marks events the dispatcher must not drop under
// backpressure: account state changes and integrity conflicts.
func retainAuditEvent(ev AuditEvent) bool {
	switch ev.EventType {
	case auditEventMigrationSuccess, auditEventTOTPEnabled, auditEventTOTPDisabled:
		return true
	}
	return ev.Error == string(auditErrIntegrity)
}

func auditOutcome(success bool) AuditOutcome {
	if success {
		return AuditSuccess
	}
	return AuditFailure
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, jwt.ErrExpiredToken):
		return auditErrExpiredToken
	case errors.Is(err, jwt.ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrTOTPRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrIPMismatch),
		errors.Is(err, session.ErrInvalidFormat),
		errors.Is(err, session.ErrSessionCorrupt):
		return auditErrInvalidToken
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrMigrationRequired):
		return auditErrMigrationRequired
	case errors.Is(err, ErrDataIntegrity):
		return auditErrIntegrity
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrTOTPInvalidCode):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTOTPAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrSystem),
		errors.Is(err, session.ErrRedisUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
