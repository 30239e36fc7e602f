package httpapi

import (
	"context"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/middleware"
)

// Service is the subset of [authbridge.Engine] the handlers call.
type Service interface {
	middleware.Authenticator

	Login(ctx context.Context, email, password string, remember bool) (*authbridge.LoginResult, error)
	Refresh(ctx context.Context, token string) (*authbridge.LoginResult, error)
	Logout(ctx context.Context, token string) error
	MigrateLegacyAccount(ctx context.Context, email, legacyPassword string) (*authbridge.MigrationOutcome, error)
	AuthenticateExternalToken(ctx context.Context, idToken string) (*authbridge.MigrationOutcome, error)
	BeginTOTPSetup(ctx context.Context, email string) (*authbridge.TOTPSetup, error)
	ConfirmTOTPSetup(ctx context.Context, email, code string) error
	DisableTOTP(ctx context.Context, email, code string) error
	LoginRetryAfter(ctx context.Context, email string) time.Duration
	Ping(ctx context.Context) (time.Duration, error)
}

var _ Service = (*authbridge.Engine)(nil)
