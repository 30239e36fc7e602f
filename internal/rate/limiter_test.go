package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiterTest(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, cfg), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestLoginLimiterBlocksAfterBudget(t *testing.T) {
	l, mr, done := newLimiterTest(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "Jane@Example.com", "10.0.0.1"); err != nil {
			t.Fatalf("attempt %d unexpectedly limited: %v", i, err)
		}
		_ = l.IncrementLogin(ctx, "jane@example.com", "10.0.0.1")
	}
	if err := l.CheckLogin(ctx, "jane@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	retry, err := l.LoginRetryAfter(ctx, "jane@example.com")
	if err != nil || retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry-after %v err=%v", retry, err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "jane@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestResetLoginClearsIdentityOnly(t *testing.T) {
	l, mr, done := newLimiterTest(t, Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      2,
		LoginCooldownDuration: time.Minute,
	})
	defer done()
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "a@example.com", "10.0.0.9")
	_ = l.IncrementLogin(ctx, "b@example.com", "10.0.0.9")
	if err := l.ResetLogin(ctx, "a@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists("ab:rl:id:a@example.com") {
		t.Fatal("expected identity counter cleared")
	}
	if err := l.CheckLogin(ctx, "c@example.com", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip counter to still limit, got %v", err)
	}
}

func TestRefreshLimiter(t *testing.T) {
	l, _, done := newLimiterTest(t, Config{
		MaxRefreshAttempts:      2,
		RefreshCooldownDuration: time.Minute,
	})
	defer done()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("refresh %d limited: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("expected other ip unaffected, got %v", err)
	}
}

func TestDisabledLimiterIsNoop(t *testing.T) {
	l, mr, done := newLimiterTest(t, Config{})
	defer done()
	mr.Close()
	ctx := context.Background()

	if err := l.CheckLogin(ctx, "x", "y"); err != nil {
		t.Fatalf("expected disabled limiter to skip redis, got %v", err)
	}
	if err := l.IncrementLogin(ctx, "x", "y"); err != nil {
		t.Fatalf("expected disabled limiter to skip redis, got %v", err)
	}
	if err := l.CheckRefresh(ctx, "y"); err != nil {
		t.Fatalf("expected disabled refresh limiter to skip redis, got %v", err)
	}
}
