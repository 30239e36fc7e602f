package flows

import (
	"context"
	"errors"
	"fmt"
)

// MigrationState is the derived migration status of a directory record.
type MigrationState int

const (
	MigrationUnknown MigrationState = iota
	MigrationIntegrityError
	MigrationRequired
	MigrationAlreadyMigrated
	MigrationLinkRequired
	MigrationNewUser
)

func (s MigrationState) String() string {
	switch s {
	case MigrationIntegrityError:
		return "integrity_error"
	case MigrationRequired:
		return "migration_required"
	case MigrationAlreadyMigrated:
		return "already_migrated"
	case MigrationLinkRequired:
		return "link_required"
	case MigrationNewUser:
		return "new_user"
	default:
		return "unknown"
	}
}

// ClassifyMigration maps (record exists, legacy password, external link) onto
// a migration state.
func ClassifyMigration(exists, hasLegacyPassword, hasExternalLink bool) MigrationState {
	if !exists {
		if hasLegacyPassword || hasExternalLink {
			return MigrationUnknown
		}
		return MigrationNewUser
	}
	switch {
	case hasLegacyPassword && hasExternalLink:
		return MigrationIntegrityError
	case hasLegacyPassword:
		return MigrationRequired
	case hasExternalLink:
		return MigrationAlreadyMigrated
	default:
		return MigrationLinkRequired
	}
}

// Assertion is the flow-local view of an identity-provider assertion.
type Assertion struct {
	Subject       string
	Email         string
	EmailVerified bool
	Profile       map[string]string
}

// MigrationResult reports what a migration or external sign-in did.
type MigrationResult struct {
	Identity        string
	AccessToken     string
	ExternalID      string
	State           MigrationState
	AlreadyMigrated bool
}

// MigrationMetrics carries metric IDs needed by the migration flows.
type MigrationMetrics struct {
	MigrationSuccess    int
	MigrationFailure    int
	IntegrityConflict   int
	ExternalAuthSuccess int
	ExternalAuthFailed  int
	UserProvisioned     int
}

// MigrationEvents carries audit event names used by the migration flows.
type MigrationEvents struct {
	MigrationSuccess    string
	MigrationFailure    string
	ExternalAuthSuccess string
	ExternalAuthFailure string
}

// MigrationErrors carries host-level sentinel errors used by the migration flows.
type MigrationErrors struct {
	EngineNotReady     error
	Validation         error
	EmailNotVerified   error
	InvalidCredentials error
	MigrationRequired  error
	DataIntegrity      error
	System             error
	UserNotFound       error
}

// MigrationDeps captures dependencies for external sign-in and legacy migration.
type MigrationDeps struct {
	FindUser             func(context.Context, string) (UserRecord, error)
	ProvisionUser        func(context.Context, Assertion) (UserRecord, error)
	LinkExternalIdentity func(ctx context.Context, email, externalID string) error
	ClearPasswordHash    func(context.Context, string) error

	MatchLegacyPassword func(raw, encoded string) bool
	CreateIdentity      func(ctx context.Context, email, password string, profile map[string]string) (string, error)
	DeleteIdentity      func(context.Context, string) error
	// VerifyExternalPassword re-checks the credential of an account that was
	// already migrated.
	VerifyExternalPassword func(ctx context.Context, externalID, email, password string) (bool, error)

	IssueAccessToken func(UserRecord) (string, error)

	Hooks
	Metrics MigrationMetrics
	Events  MigrationEvents
	Errors  MigrationErrors
}

func (d MigrationDeps) ready() bool {
	return d.FindUser != nil &&
		d.LinkExternalIdentity != nil &&
		d.ClearPasswordHash != nil &&
		d.MatchLegacyPassword != nil &&
		d.IssueAccessToken != nil
}

// RunAuthenticateExternal classifies the directory record behind a verified
// assertion and completes sign-in where the state allows it.
func RunAuthenticateExternal(ctx context.Context, assertion Assertion, deps MigrationDeps) (*MigrationResult, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if !deps.ready() || deps.ProvisionUser == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(assertion.Email)
	fail := func(state MigrationState, why string, err error) (*MigrationResult, error) {
		deps.MetricInc(deps.Metrics.ExternalAuthFailed)
		deps.EmitAudit(ctx, deps.Events.ExternalAuthFailure, false, identity, err, func() map[string]string {
			return map[string]string{"reason": why, "state": state.String()}
		})
		return nil, err
	}

	if identity == "" || assertion.Subject == "" {
		return fail(MigrationUnknown, "missing_claims", deps.Errors.Validation)
	}
	if !assertion.EmailVerified {
		return fail(MigrationUnknown, "email_not_verified", deps.Errors.EmailNotVerified)
	}
	assertion.Email = identity

	user, err := deps.FindUser(ctx, identity)
	exists := true
	if err != nil {
		if deps.Errors.UserNotFound == nil || !errors.Is(err, deps.Errors.UserNotFound) {
			return fail(MigrationUnknown, "directory_error", fmt.Errorf("%w: %v", deps.Errors.System, err))
		}
		exists = false
	}

	state := ClassifyMigration(exists, exists && user.HasLegacyPassword(), exists && user.HasExternalLink())
	if state == MigrationAlreadyMigrated && user.ExternalID != assertion.Subject {
		state = MigrationIntegrityError
	}

	switch state {
	case MigrationIntegrityError:
		deps.MetricInc(deps.Metrics.IntegrityConflict)
		deps.Error("account integrity conflict", "identity", identity, "subject", assertion.Subject)
		return fail(state, "integrity_conflict", deps.Errors.DataIntegrity)
	case MigrationRequired:
		return fail(state, "migration_required", deps.Errors.MigrationRequired)
	case MigrationAlreadyMigrated:
	case MigrationLinkRequired:
		if err := deps.LinkExternalIdentity(ctx, identity, assertion.Subject); err != nil {
			return fail(state, "link_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
		}
		user.ExternalID = assertion.Subject
	case MigrationNewUser:
		user, err = deps.ProvisionUser(ctx, assertion)
		if err != nil {
			return fail(state, "provision_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
		}
		deps.MetricInc(deps.Metrics.UserProvisioned)
	default:
		return fail(state, "unclassified", deps.Errors.System)
	}

	if !user.Active {
		return fail(state, "inactive", deps.Errors.InvalidCredentials)
	}

	access, err := deps.IssueAccessToken(user)
	if err != nil {
		return fail(state, "token_issue_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	deps.MetricInc(deps.Metrics.ExternalAuthSuccess)
	deps.EmitAudit(ctx, deps.Events.ExternalAuthSuccess, true, identity, nil, func() map[string]string {
		return map[string]string{"state": state.String()}
	})

	return &MigrationResult{
		Identity:        identity,
		AccessToken:     access,
		ExternalID:      user.ExternalID,
		State:           state,
		AlreadyMigrated: state == MigrationAlreadyMigrated,
	}, nil
}

// RunMigrateLegacy moves a legacy-credentialed account to the identity
// provider: create the external identity, link it, then clear the legacy hash.
func RunMigrateLegacy(ctx context.Context, email, password string, deps MigrationDeps) (*MigrationResult, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if !deps.ready() || deps.CreateIdentity == nil {
		return nil, deps.Errors.EngineNotReady
	}

	identity := NormalizeIdentity(email)
	fail := func(why string, err error) (*MigrationResult, error) {
		deps.MetricInc(deps.Metrics.MigrationFailure)
		deps.EmitAudit(ctx, deps.Events.MigrationFailure, false, identity, err, reason(why))
		return nil, err
	}

	if identity == "" || password == "" {
		return fail("missing_input", deps.Errors.Validation)
	}

	user, err := deps.FindUser(ctx, identity)
	if err != nil {
		if deps.Errors.UserNotFound != nil && errors.Is(err, deps.Errors.UserNotFound) {
			return fail("user_not_found", deps.Errors.InvalidCredentials)
		}
		return fail("directory_error", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	switch ClassifyMigration(true, user.HasLegacyPassword(), user.HasExternalLink()) {
	case MigrationAlreadyMigrated:
		if !user.Active {
			return fail("inactive", deps.Errors.InvalidCredentials)
		}
		if deps.VerifyExternalPassword == nil {
			return fail("idp_not_configured", deps.Errors.InvalidCredentials)
		}
		ok, err := deps.VerifyExternalPassword(ctx, user.ExternalID, identity, password)
		if err != nil {
			return fail("idp_verify_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
		}
		if !ok {
			return fail("password_mismatch", deps.Errors.InvalidCredentials)
		}
		access, err := deps.IssueAccessToken(user)
		if err != nil {
			return fail("token_issue_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
		}
		deps.EmitAudit(ctx, deps.Events.MigrationSuccess, true, identity, nil, func() map[string]string {
			return map[string]string{"already_migrated": "true"}
		})
		return &MigrationResult{
			Identity:        identity,
			AccessToken:     access,
			ExternalID:      user.ExternalID,
			State:           MigrationAlreadyMigrated,
			AlreadyMigrated: true,
		}, nil
	case MigrationIntegrityError:
		deps.MetricInc(deps.Metrics.IntegrityConflict)
		deps.Error("account integrity conflict", "identity", identity)
		return fail("integrity_conflict", deps.Errors.DataIntegrity)
	case MigrationLinkRequired:
		return fail("no_credential", deps.Errors.InvalidCredentials)
	case MigrationRequired:
	default:
		return fail("unclassified", deps.Errors.System)
	}

	if !user.Active {
		return fail("inactive", deps.Errors.InvalidCredentials)
	}
	if !deps.MatchLegacyPassword(password, user.PasswordHash) {
		return fail("password_mismatch", deps.Errors.InvalidCredentials)
	}

	profile := map[string]string{"username": user.Username}
	externalID, err := deps.CreateIdentity(ctx, identity, password, profile)
	password = ""
	if err != nil {
		return fail("idp_create_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	if err := deps.LinkExternalIdentity(ctx, identity, externalID); err != nil {
		if deps.DeleteIdentity != nil {
			if delErr := deps.DeleteIdentity(ctx, externalID); delErr != nil {
				deps.Warn("idp identity rollback failed", "identity", identity, "external_id", externalID, "error", delErr.Error())
			}
		}
		return fail("link_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	if err := deps.ClearPasswordHash(ctx, identity); err != nil {
		deps.Error("legacy password clear failed after link; manual repair required",
			"identity", identity, "external_id", externalID, "error", err.Error())
		return fail("clear_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	user.PasswordHash = ""
	user.ExternalID = externalID
	access, err := deps.IssueAccessToken(user)
	if err != nil {
		return fail("token_issue_failed", fmt.Errorf("%w: %v", deps.Errors.System, err))
	}

	deps.MetricInc(deps.Metrics.MigrationSuccess)
	deps.EmitAudit(ctx, deps.Events.MigrationSuccess, true, identity, nil, func() map[string]string {
		return map[string]string{"external_id": externalID}
	})

	return &MigrationResult{
		Identity:    identity,
		AccessToken: access,
		ExternalID:  externalID,
		State:       MigrationRequired,
	}, nil
}
