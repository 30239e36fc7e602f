package authbridge

import (
	"context"

	"github.com/MrEthical07/authbridge/internal/flows"
)

// BeginTOTPSetup generates a secret for email and parks it as pending for
// Config.TOTP.SetupTTL. The account is unchanged until ConfirmTOTPSetup.
func (e *Engine) BeginTOTPSetup(ctx context.Context, email string) (*TOTPSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunBeginTOTPSetup(ctx, email, e.flowDeps.TOTP)
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: res.Secret, URI: res.URI}, nil
}

// ConfirmTOTPSetup commits the pending secret once code verifies against it.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunConfirmTOTPSetup(ctx, email, code, e.flowDeps.TOTP)
}

// DisableTOTP removes the committed secret after checking a current code.
func (e *Engine) DisableTOTP(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunDisableTOTP(ctx, email, code, e.flowDeps.TOTP)
}

// VerifyTOTP checks code against the committed secret for email.
func (e *Engine) VerifyTOTP(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunVerifyTOTP(ctx, email, code, e.flowDeps.TOTP)
}
