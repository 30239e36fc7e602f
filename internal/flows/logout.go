package flows

import (
	"context"
	"errors"
	"fmt"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	ValidFormat   func(string) bool
	RevokeSession func(context.Context, string) error

	Hooks
	MetricLogout     int
	EventLogout      string
	StoreUnavailable error
	System           error
}

// RunLogout revokes the refresh session behind token. Missing, malformed, or
// already expired tokens are not errors; only store outages are returned.
func RunLogout(ctx context.Context, token string, deps LogoutDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	if token == "" || deps.RevokeSession == nil {
		return nil
	}
	if deps.ValidFormat != nil && !deps.ValidFormat(token) {
		return nil
	}

	if err := deps.RevokeSession(ctx, token); err != nil {
		if deps.StoreUnavailable != nil && errors.Is(err, deps.StoreUnavailable) {
			deps.Warn("logout revoke failed", "error", err.Error())
			deps.EmitAudit(ctx, deps.EventLogout, false, "", err, reason("backend_error"))
			return fmt.Errorf("%w: %v", deps.System, err)
		}
		return nil
	}

	deps.MetricInc(deps.MetricLogout)
	deps.EmitAudit(ctx, deps.EventLogout, true, "", nil, nil)
	return nil
}
