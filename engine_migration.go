package authbridge

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authbridge/internal/flows"
)

// AuthenticateExternal signs in a caller vouched for by the identity provider.
// The directory record decides the outcome:
//
//	legacy password + external link   -> ErrDataIntegrity
//	legacy password only              -> ErrMigrationRequired
//	external link only                -> signed in (already migrated)
//	neither                           -> linked to the subject, signed in
//	no record                         -> provisioned, linked, signed in
func (e *Engine) AuthenticateExternal(ctx context.Context, assertion Assertion) (*MigrationOutcome, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunAuthenticateExternal(ctx, flows.Assertion{
		Subject:       assertion.Subject,
		Email:         assertion.Email,
		EmailVerified: assertion.EmailVerified,
		Profile:       assertion.Profile,
	}, e.flowDeps.Migration)
	if err != nil {
		return nil, err
	}
	return toMigrationOutcome(res), nil
}

// AuthenticateExternalToken verifies idToken with the identity provider and
// then behaves as [Engine.AuthenticateExternal].
func (e *Engine) AuthenticateExternalToken(ctx context.Context, idToken string) (*MigrationOutcome, error) {
	if e == nil || e.idp == nil {
		return nil, ErrEngineNotReady
	}
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty id token", ErrValidation)
	}
	assertion, err := e.idp.VerifyToken(ctx, idToken)
	if err != nil {
		e.logger.Warn().Err(err).Msg("identity provider token verification failed")
		return nil, ErrUnauthorized
	}
	return e.AuthenticateExternal(ctx, assertion)
}

// MigrateLegacyAccount verifies the legacy password, creates the account at
// the identity provider, links it, and clears the legacy hash.
//
// If linking fails the external identity is deleted best-effort. If clearing
// the hash fails the link stays in place and later sign-ins report
// [ErrDataIntegrity] until an operator repairs the record.
func (e *Engine) MigrateLegacyAccount(ctx context.Context, email, legacyPassword string) (*MigrationOutcome, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunMigrateLegacy(ctx, email, legacyPassword, e.flowDeps.Migration)
	if err != nil {
		return nil, err
	}
	return toMigrationOutcome(res), nil
}

func toMigrationOutcome(res *flows.MigrationResult) *MigrationOutcome {
	return &MigrationOutcome{
		AccessToken:     res.AccessToken,
		ExternalID:      res.ExternalID,
		State:           MigrationState(res.State.String()),
		AlreadyMigrated: res.AlreadyMigrated,
	}
}
