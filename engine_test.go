package authbridge_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authbridge"
	"github.com/MrEthical07/authbridge/directory/memory"
	"github.com/MrEthical07/authbridge/jwt"
	"github.com/MrEthical07/authbridge/password"
	"github.com/MrEthical07/authbridge/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testIterations = 1000

type fakeIdP struct {
	created   map[string]string
	passwords map[string]string
	deleted   []string
	tokens    map[string]authbridge.Assertion
	createErr error
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{
		created:   map[string]string{},
		passwords: map[string]string{},
		tokens:    map[string]authbridge.Assertion{},
	}
}

func (f *fakeIdP) CreateIdentity(_ context.Context, email, pw string, _ map[string]string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "ext-" + email
	f.created[email] = id
	f.passwords[id] = pw
	return id, nil
}

func (f *fakeIdP) DeleteIdentity(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIdP) VerifyPassword(_ context.Context, id, _, pw string) (bool, error) {
	return f.passwords[id] == pw, nil
}

func (f *fakeIdP) VerifyToken(_ context.Context, token string) (authbridge.Assertion, error) {
	a, ok := f.tokens[token]
	if !ok {
		return authbridge.Assertion{}, errors.New("unknown token")
	}
	return a, nil
}

type engineFixture struct {
	engine *authbridge.Engine
	dir    *memory.Directory
	idp    *fakeIdP
	mr     *miniredis.Miniredis
	events *authbridge.ChannelSink
	now    time.Time
}

func testSecret() string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("k"), 64))
}

func legacyHash(t *testing.T, raw string) string {
	t.Helper()
	l, err := password.NewLegacy(password.Config{Iterations: testIterations}, zerolog.Nop())
	if err != nil {
		t.Fatalf("legacy hasher: %v", err)
	}
	encoded, err := l.Encode(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return encoded
}

func mustUser(t *testing.T, p authbridge.UserParams) authbridge.User {
	t.Helper()
	u, err := authbridge.NewUser(p)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	return u
}

func newEngineFixture(t *testing.T, users ...authbridge.User) (*engineFixture, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &engineFixture{
		dir:    memory.New(users...),
		idp:    newFakeIdP(),
		mr:     mr,
		events: authbridge.NewChannelSink(256),
		now:    time.Unix(1_700_000_000, 0),
	}

	cfg := authbridge.DefaultConfig()
	cfg.JWT.Secret = testSecret()
	cfg.Password.LegacyIterations = testIterations
	cfg.Security.MaxLoginAttempts = 3

	engine, err := authbridge.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(f.dir).
		WithIdentityProvider(f.idp).
		WithAuditSink(f.events).
		WithClock(func() time.Time { return f.now }).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	f.engine = engine

	return f, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

func ipCtx(ip string) context.Context {
	return authbridge.WithClientIP(context.Background(), ip)
}

func TestLoginWithoutRememberIssuesAccessOnly(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		Username:     "jane",
		Authorities:  []string{"ROLE_USER"},
		PasswordHash: legacyHash(t, "correct horse"),
		Active:       true,
	}))
	defer done()

	res, err := f.engine.Login(ipCtx("10.0.0.1"), "Jane@Example.com", "correct horse", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.RefreshToken != "" {
		t.Fatalf("expected no refresh token without remember")
	}

	claims, err := f.engine.ValidateAccess(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "jane@example.com" || claims.Username != "jane" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != authbridge.DefaultConfig().JWT.AccessTTL {
		t.Fatalf("exp-iat must equal access ttl")
	}
}

func TestRefreshRotationAndLogout(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	first, err := f.engine.Login(ctx, "jane@example.com", "pw", true)
	if err != nil || first.RefreshToken == "" {
		t.Fatalf("remembered login: %+v err=%v", first, err)
	}
	if !jwt.ValidRefreshTokenFormat(first.RefreshToken) {
		t.Fatalf("refresh token has wrong shape: %q", first.RefreshToken)
	}

	second, err := f.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}
	if _, err := f.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, authbridge.ErrInvalidRefreshToken) {
		t.Fatalf("expected rotated-out token to be rejected, got %v", err)
	}

	if _, err := f.engine.Refresh(ipCtx("10.9.9.9"), second.RefreshToken); !errors.Is(err, authbridge.ErrInvalidRefreshToken) {
		t.Fatalf("expected ip mismatch rejection, got %v", err)
	}

	if err := f.engine.Logout(ctx, second.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, authbridge.ErrInvalidRefreshToken) {
		t.Fatalf("expected logged-out token to be rejected, got %v", err)
	}
	if err := f.engine.Logout(ctx, "not-a-token"); err != nil {
		t.Fatalf("logout of garbage must be a no-op, got %v", err)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	login, err := f.engine.Login(ctx, "jane@example.com", "pw", true)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Refresh(ctx, login.RefreshToken)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, authbridge.ErrInvalidRefreshToken):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestSingleRememberedSessionPerIdentity(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	a, err := f.engine.Login(ctx, "jane@example.com", "pw", true)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	b, err := f.engine.Login(ctx, "jane@example.com", "pw", true)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if _, err := f.engine.Refresh(ctx, a.RefreshToken); !errors.Is(err, authbridge.ErrInvalidRefreshToken) {
		t.Fatalf("expected first session evicted, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, b.RefreshToken); err != nil {
		t.Fatalf("expected second session live, got %v", err)
	}
}

func TestLoginRateLimitAfterFailures(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Login(ctx, "jane@example.com", "wrong", false); !errors.Is(err, authbridge.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := f.engine.Login(ctx, "jane@example.com", "pw", false); !errors.Is(err, authbridge.ErrLoginRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if d := f.engine.LoginRetryAfter(ctx, "jane@example.com"); d <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d)
	}
}

func TestValidateAccessCategories(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()

	res, err := f.engine.Login(ipCtx("10.0.0.1"), "jane@example.com", "pw", false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err = f.engine.ValidateAccess(context.Background(), "garbage")
	if !errors.Is(err, authbridge.ErrUnauthorized) || jwt.CategoryOf(err) != jwt.CategoryInvalid {
		t.Fatalf("expected invalid category, got %v", err)
	}

	f.now = f.now.Add(time.Hour)
	_, err = f.engine.ValidateAccess(context.Background(), res.AccessToken)
	if !errors.Is(err, jwt.ErrExpiredToken) || jwt.CategoryOf(err) != jwt.CategoryExpired {
		t.Fatalf("expected expired category, got %v", err)
	}
}

func TestMigrateLegacyAccountThenSignInThroughProvider(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "old@example.com",
		Username:     "old",
		PasswordHash: legacyHash(t, "legacy-pw"),
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	if _, err := f.engine.AuthenticateExternal(ctx, authbridge.Assertion{
		Subject: "ext-old@example.com", Email: "old@example.com", EmailVerified: true,
	}); !errors.Is(err, authbridge.ErrMigrationRequired) {
		t.Fatalf("expected migration required, got %v", err)
	}

	out, err := f.engine.MigrateLegacyAccount(ctx, "old@example.com", "legacy-pw")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out.ExternalID != "ext-old@example.com" || out.AlreadyMigrated || out.AccessToken == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	user, err := f.dir.FindByEmail(ctx, "old@example.com")
	if err != nil || user.HasLegacyPassword() || user.ExternalID() != "ext-old@example.com" {
		t.Fatalf("expected cleared and linked record, got %+v err=%v", user, err)
	}

	if _, err := f.engine.Login(ctx, "old@example.com", "legacy-pw", false); err != nil {
		t.Fatalf("expected provider password check after migration, got %v", err)
	}

	again, err := f.engine.MigrateLegacyAccount(ctx, "old@example.com", "legacy-pw")
	if err != nil || !again.AlreadyMigrated {
		t.Fatalf("expected idempotent migration, got %+v err=%v", again, err)
	}

	ext, err := f.engine.AuthenticateExternal(ctx, authbridge.Assertion{
		Subject: "ext-old@example.com", Email: "old@example.com", EmailVerified: true,
	})
	if err != nil || ext.State != authbridge.MigrationAlreadyMigrated {
		t.Fatalf("expected already migrated, got %+v err=%v", ext, err)
	}
}

func TestMigrateAlreadyMigratedRequiresProviderPassword(t *testing.T) {
	linked := mustUser(t, authbridge.UserParams{
		Email:      "victim@example.com",
		ExternalID: "ext-victim@example.com",
		Active:     true,
	})
	disabled := mustUser(t, authbridge.UserParams{
		Email:      "gone@example.com",
		ExternalID: "ext-gone@example.com",
		Active:     false,
	})
	f, done := newEngineFixture(t, linked, disabled)
	defer done()
	f.idp.passwords["ext-victim@example.com"] = "provider-pw"
	f.idp.passwords["ext-gone@example.com"] = "provider-pw"
	ctx := ipCtx("10.0.0.1")

	if out, err := f.engine.MigrateLegacyAccount(ctx, "victim@example.com", "totally-wrong-guess"); !errors.Is(err, authbridge.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %+v err=%v", out, err)
	}
	if out, err := f.engine.MigrateLegacyAccount(ctx, "gone@example.com", "provider-pw"); !errors.Is(err, authbridge.ErrInvalidCredentials) {
		t.Fatalf("expected inactive account to be rejected, got %+v err=%v", out, err)
	}

	out, err := f.engine.MigrateLegacyAccount(ctx, "victim@example.com", "provider-pw")
	if err != nil || !out.AlreadyMigrated || out.AccessToken == "" {
		t.Fatalf("expected idempotent success with the right password, got %+v err=%v", out, err)
	}
	if _, err := f.engine.ValidateAccess(ctx, out.AccessToken); err != nil {
		t.Fatalf("issued token must validate: %v", err)
	}
}

func TestIntegrityConflictIsReported(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "both@example.com",
		PasswordHash: legacyHash(t, "pw"),
		ExternalID:   "ext-1",
		Active:       true,
	}))
	defer done()
	ctx := ipCtx("10.0.0.1")

	if _, err := f.engine.AuthenticateExternal(ctx, authbridge.Assertion{
		Subject: "ext-1", Email: "both@example.com", EmailVerified: true,
	}); !errors.Is(err, authbridge.ErrDataIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if _, err := f.engine.Login(ctx, "both@example.com", "pw", false); !errors.Is(err, authbridge.ErrDataIntegrity) {
		t.Fatalf("expected login integrity error, got %v", err)
	}
	if _, err := f.engine.MigrateLegacyAccount(ctx, "both@example.com", "pw"); !errors.Is(err, authbridge.ErrDataIntegrity) {
		t.Fatalf("expected migrate integrity error, got %v", err)
	}
}

func TestAuthenticateExternalProvisionsNewUser(t *testing.T) {
	f, done := newEngineFixture(t)
	defer done()
	f.idp.tokens["id-token"] = authbridge.Assertion{
		Subject:       "sub-42",
		Email:         "new@example.com",
		EmailVerified: true,
		Profile:       map[string]string{"username": "newbie"},
	}

	out, err := f.engine.AuthenticateExternalToken(ipCtx("10.0.0.1"), "id-token")
	if err != nil || out.State != authbridge.MigrationNewUser {
		t.Fatalf("expected new user, got %+v err=%v", out, err)
	}
	user, err := f.dir.FindByEmail(context.Background(), "new@example.com")
	if err != nil || user.ID() == "" || user.Username() != "newbie" || user.ExternalID() != "sub-42" {
		t.Fatalf("unexpected provisioned user %+v err=%v", user, err)
	}

	if _, err := f.engine.AuthenticateExternalToken(ipCtx("10.0.0.1"), "bogus"); !errors.Is(err, authbridge.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown token, got %v", err)
	}
}

func TestTOTPEnrollmentLifecycle(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()
	ctx := context.Background()
	oracle := totp.New(totp.Config{})

	setup, err := f.engine.BeginTOTPSetup(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if setup.URI == "" || len(setup.Secret) != 32 {
		t.Fatalf("unexpected setup %+v", setup)
	}

	stale, err := oracle.GenerateTOTP(setup.Secret, f.now.Add(-time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("generate stale: %v", err)
	}
	if err := f.engine.ConfirmTOTPSetup(ctx, "jane@example.com", stale); !errors.Is(err, authbridge.ErrTOTPInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}

	code, err := oracle.GenerateTOTP(setup.Secret, f.now.UnixMilli())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := f.engine.ConfirmTOTPSetup(ctx, "jane@example.com", code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := f.engine.VerifyTOTP(ctx, "jane@example.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := f.engine.VerifyTOTP(ctx, "jane@example.com", code); !errors.Is(err, authbridge.ErrTOTPInvalidCode) {
		t.Fatalf("expected a used code to be rejected, got %v", err)
	}
	if _, err := f.engine.BeginTOTPSetup(ctx, "jane@example.com"); !errors.Is(err, authbridge.ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected already enabled, got %v", err)
	}
	if err := f.engine.DisableTOTP(ctx, "jane@example.com", code); !errors.Is(err, authbridge.ErrTOTPInvalidCode) {
		t.Fatalf("expected a used code to be refused for disable, got %v", err)
	}
	next, err := oracle.GenerateTOTP(setup.Secret, f.now.Add(totp.StepSeconds*time.Second).UnixMilli())
	if err != nil {
		t.Fatalf("generate next: %v", err)
	}
	if err := f.engine.DisableTOTP(ctx, "jane@example.com", next); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := f.engine.VerifyTOTP(ctx, "jane@example.com", code); !errors.Is(err, authbridge.ErrTOTPNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
}

func TestTOTPVerifyLimitedAfterRepeatedFailures(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:  "jane@example.com",
		Active: true,
	}))
	defer done()
	ctx := context.Background()
	oracle := totp.New(totp.Config{})

	setup, err := f.engine.BeginTOTPSetup(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	code, err := oracle.GenerateTOTP(setup.Secret, f.now.UnixMilli())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := f.engine.ConfirmTOTPSetup(ctx, "jane@example.com", code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	stale, err := oracle.GenerateTOTP(setup.Secret, f.now.Add(-time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("generate stale: %v", err)
	}

	max := authbridge.DefaultConfig().TOTP.MaxVerifyAttempts
	for i := 0; i < max; i++ {
		if err := f.engine.VerifyTOTP(ctx, "jane@example.com", stale); !errors.Is(err, authbridge.ErrTOTPInvalidCode) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i, err)
		}
	}
	if err := f.engine.VerifyTOTP(ctx, "jane@example.com", code); !errors.Is(err, authbridge.ErrTOTPRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if err := f.engine.DisableTOTP(ctx, "jane@example.com", code); !errors.Is(err, authbridge.ErrTOTPRateLimited) {
		t.Fatalf("expected disable to be rate limited, got %v", err)
	}

	f.mr.FastForward(authbridge.DefaultConfig().TOTP.VerifyCooldown + time.Second)
	if err := f.engine.VerifyTOTP(ctx, "jane@example.com", code); err != nil {
		t.Fatalf("verify after cooldown: %v", err)
	}
	if f.mr.Exists("ab:rl:totp:jane@example.com") {
		t.Fatal("expected counter to be cleared by a good code")
	}
}

func TestAuditEventsCarryRequestContext(t *testing.T) {
	f, done := newEngineFixture(t, mustUser(t, authbridge.UserParams{
		Email:        "jane@example.com",
		PasswordHash: legacyHash(t, "pw"),
		Active:       true,
	}))
	defer done()

	ctx := authbridge.WithUserAgent(ipCtx("10.0.0.1"), "test-agent")
	if _, err := f.engine.Login(ctx, "jane@example.com", "wrong", false); err == nil {
		t.Fatalf("expected failure")
	}

	select {
	case ev := <-f.events.Events():
		if ev.EventType != "login_failure" || ev.Outcome != authbridge.AuditFailure {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.IP != "10.0.0.1" || ev.UserAgent != "test-agent" || ev.Reason != "password_mismatch" {
			t.Fatalf("event missing request context: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for audit event")
	}

	if got := f.engine.MetricsSnapshot().Counters[authbridge.MetricLoginFailure]; got != 1 {
		t.Fatalf("expected 1 login failure metric, got %d", got)
	}
}
