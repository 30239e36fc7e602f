package authbridge

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine was not built through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrUnauthorized is returned by access validation for any token failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials covers unknown users, wrong passwords, and inactive accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRefreshToken is returned when a refresh token is absent, expired, or bound elsewhere.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrLoginRateLimited is returned once the login window budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned once the refresh window budget is spent.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrEmailNotVerified rejects external assertions with an unverified email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrMigrationRequired means the account still holds a legacy password and
	// must go through MigrateLegacyAccount first.
	ErrMigrationRequired = errors.New("legacy account migration required")
	// ErrDataIntegrity means the account holds both a legacy password and an
	// external link, or is linked to a different subject.
	ErrDataIntegrity = errors.New("account data integrity conflict")
	// ErrValidation rejects empty or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrSystem wraps directory, identity-provider, and store failures.
	ErrSystem = errors.New("system error")

	// ErrUserNotFound must be returned (or wrapped) by [UserDirectory] lookups
	// that find no record.
	ErrUserNotFound = errors.New("user not found")

	// ErrTOTPInvalidCode is returned when a TOTP code does not verify.
	ErrTOTPInvalidCode = errors.New("invalid totp code")
	// ErrTOTPAlreadyEnabled is returned when setup starts on an account that already has a secret.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrTOTPNotEnabled is returned when no committed secret exists.
	ErrTOTPNotEnabled = errors.New("totp not enabled")
	// ErrTOTPSetupNotFound is returned when no pending setup exists or it expired.
	ErrTOTPSetupNotFound = errors.New("totp setup not found")
	// ErrTOTPAttemptsExceeded is returned when a pending setup is dropped after too many bad codes.
	ErrTOTPAttemptsExceeded = errors.New("totp setup attempts exceeded")
	// ErrTOTPRateLimited is returned when too many codes failed against an enabled secret.
	ErrTOTPRateLimited = errors.New("totp rate limited")
)
