package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/jwt"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

type decision struct {
	allowed  bool
	identity string
	reason   string
	ip       string
}

type fakeAuth struct {
	validErr   error
	resolveErr error
	decisions  []decision
}

func (f *fakeAuth) ValidateAccess(_ context.Context, token string) (*jwt.AccessClaims, error) {
	if f.validErr != nil {
		return nil, f.validErr
	}
	return &jwt.AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{Subject: "jane@example.com"}}, nil
}

func (f *fakeAuth) ResolvePrincipal(_ context.Context, claims *jwt.AccessClaims) (*authbridge.Principal, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &authbridge.Principal{Email: claims.Subject, Authorities: []string{"ROLE_USER"}}, nil
}

func (f *fakeAuth) RecordGateDecision(ctx context.Context, allowed bool, identity, reason string) {
	f.decisions = append(f.decisions, decision{allowed, identity, reason, authbridge.ClientIPFromContext(ctx)})
}

func serve(t *testing.T, auth Authenticator, rules []PathRule, req *http.Request) (*httptest.ResponseRecorder, *authbridge.Principal) {
	t.Helper()
	var seen *authbridge.Principal
	h := Gate(auth, GateConfig{Rules: rules, Logger: zerolog.Nop()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestGateBypassesDefaultPaths(t *testing.T) {
	auth := &fakeAuth{}
	rec, p := serve(t, auth, nil, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))
	if rec.Code != http.StatusNoContent || p != nil {
		t.Fatalf("expected pass-through without principal, got %d", rec.Code)
	}
	if len(auth.decisions) != 0 {
		t.Fatalf("bypassed paths must not be audited")
	}
}

func TestGateRejectsMissingToken(t *testing.T) {
	auth := &fakeAuth{}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.RemoteAddr = "10.1.2.3:5555"

	rec, p := serve(t, auth, nil, req)
	if rec.Code != http.StatusUnauthorized || p != nil {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"unauthorized"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if len(auth.decisions) != 1 || auth.decisions[0].reason != reasonMissingToken || auth.decisions[0].ip != "10.1.2.3" {
		t.Fatalf("unexpected decisions %+v", auth.decisions)
	}
}

func TestGateUniformBodyForExpiredToken(t *testing.T) {
	auth := &fakeAuth{validErr: jwt.ErrExpiredToken}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")

	rec, _ := serve(t, auth, nil, req)
	if rec.Code != http.StatusUnauthorized || rec.Body.String() != `{"error":"unauthorized"}` {
		t.Fatalf("expected uniform 401, got %d %q", rec.Code, rec.Body.String())
	}
	if auth.decisions[0].reason != "expired_token" {
		t.Fatalf("expected expired reason, got %+v", auth.decisions)
	}
}

func TestGateRejectsUnresolvedPrincipal(t *testing.T) {
	auth := &fakeAuth{resolveErr: authbridge.ErrUnauthorized}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")

	rec, p := serve(t, auth, nil, req)
	if rec.Code != http.StatusUnauthorized || p != nil {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if auth.decisions[0].identity != "jane@example.com" || auth.decisions[0].reason != reasonUnresolved {
		t.Fatalf("unexpected decision %+v", auth.decisions[0])
	}
}

func TestGateStoresPrincipal(t *testing.T) {
	auth := &fakeAuth{}
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")

	rec, p := serve(t, auth, nil, req)
	if rec.Code != http.StatusNoContent || p == nil || p.Email != "jane@example.com" {
		t.Fatalf("expected principal in context, got %d %+v", rec.Code, p)
	}
	if !auth.decisions[0].allowed {
		t.Fatalf("expected allow decision")
	}
}

func TestGateFirstMatchingRuleWins(t *testing.T) {
	rules := []PathRule{
		{Pattern: "/public/private", Bypass: false},
		{Pattern: "/public/", Prefix: true, Bypass: true},
	}

	rec, _ := serve(t, &fakeAuth{}, rules, httptest.NewRequest(http.MethodGet, "/public/docs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected prefix bypass, got %d", rec.Code)
	}

	rec, _ = serve(t, &fakeAuth{}, rules, httptest.NewRequest(http.MethodGet, "/public/private", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected earlier exact rule to require auth, got %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	if _, ok := bearerToken("Basic abc"); ok {
		t.Fatalf("expected basic scheme to be rejected")
	}
	if _, ok := bearerToken("Bearer   "); ok {
		t.Fatalf("expected empty bearer to be rejected")
	}
	if tok, ok := bearerToken("Bearer abc.def"); !ok || tok != "abc.def" {
		t.Fatalf("unexpected token %q", tok)
	}
}
