package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/jwt"
	"github.com/rs/zerolog"
)

// Authenticator is the slice of [authbridge.Engine] the gate depends on.
type Authenticator interface {
	ValidateAccess(ctx context.Context, token string) (*jwt.AccessClaims, error)
	ResolvePrincipal(ctx context.Context, claims *jwt.AccessClaims) (*authbridge.Principal, error)
	RecordGateDecision(ctx context.Context, allowed bool, identity, reason string)
}

// PathRule matches a request path exactly, or by prefix when Prefix is set.
// Matching rules are evaluated in order and the first one decides.
type PathRule struct {
	Pattern string
	Prefix  bool
	Bypass  bool
}

// GateConfig configures [Gate]. A nil Rules slice means [DefaultRules].
type GateConfig struct {
	Rules  []PathRule
	Logger zerolog.Logger
}

// DefaultRules lets the credential, health and metrics endpoints through.
func DefaultRules() []PathRule {
	return []PathRule{
		{Pattern: "/auth/sign-in", Bypass: true},
		{Pattern: "/auth/refresh", Bypass: true},
		{Pattern: "/auth/sign-out", Bypass: true},
		{Pattern: "/auth/migrate", Bypass: true},
		{Pattern: "/auth/external", Bypass: true},
		{Pattern: "/healthz", Bypass: true},
		{Pattern: "/metrics", Bypass: true},
	}
}

const (
	reasonMissingToken = "missing_token"
	reasonUnresolved   = "principal_unresolved"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Gate].
func PrincipalFromContext(ctx context.Context) (*authbridge.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authbridge.Principal)
	return p, ok && p != nil
}

// Gate authenticates every request whose path is not bypassed. On success the
// resolved principal is stored in the request context; every failure gets the
// same 401 body.
func Gate(auth Authenticator, cfg GateConfig) func(http.Handler) http.Handler {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	logger := cfg.Logger.With().Str("component", "gate").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(rules, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := requestContext(r)
			if auth == nil {
				writeUnauthorized(w)
				return
			}

			deny := func(identity, reason string, err error) {
				ev := logger.Info().Str("path", r.URL.Path).Str("reason", reason)
				if err != nil {
					ev = ev.Err(err)
				}
				ev.Msg("request rejected")
				auth.RecordGateDecision(ctx, false, identity, reason)
				writeUnauthorized(w)
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny("", reasonMissingToken, nil)
				return
			}

			claims, err := auth.ValidateAccess(ctx, token)
			if err != nil {
				deny("", categoryReason(err), err)
				return
			}

			principal, err := auth.ResolvePrincipal(ctx, claims)
			if err != nil {
				deny(claims.Subject, reasonUnresolved, err)
				return
			}

			auth.RecordGateDecision(ctx, true, principal.Email, "")
			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bypassed(rules []PathRule, path string) bool {
	for _, rule := range rules {
		if rule.Prefix {
			if strings.HasPrefix(path, rule.Pattern) {
				return rule.Bypass
			}
			continue
		}
		if path == rule.Pattern {
			return rule.Bypass
		}
	}
	return false
}

// requestContext fills in client IP and user agent for audit unless an outer
// middleware already did.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if authbridge.ClientIPFromContext(ctx) == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx = authbridge.WithClientIP(ctx, host)
	}
	return authbridge.WithUserAgent(ctx, r.UserAgent())
}

func categoryReason(err error) string {
	if c := jwt.CategoryOf(err); c != jwt.CategoryNone {
		return strings.ToLower(string(c))
	}
	if errors.Is(err, authbridge.ErrEngineNotReady) {
		return "engine_not_ready"
	}
	return "invalid_token"
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
