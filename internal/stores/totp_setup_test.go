package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTOTPSetupStoreTest(t *testing.T) (*TOTPSetupStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTOTPSetupStore(rdb, "test"), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestTOTPSetupSaveGetConsume(t *testing.T) {
	store, mr, done := newTOTPSetupStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "Jane@Example.com", "JBSWY3DPEHPK3PXP", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("test:totp:pending:jane@example.com") {
		t.Fatalf("expected normalized pending key")
	}

	record, err := store.Get(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Secret != "JBSWY3DPEHPK3PXP" || record.Attempts != 0 {
		t.Fatalf("unexpected record %+v", record)
	}

	ok, err := store.Consume(ctx, "jane@example.com", "OTHERSECRETVALUE")
	if err != nil || ok {
		t.Fatalf("expected mismatched consume to keep record, ok=%v err=%v", ok, err)
	}
	ok, err = store.Consume(ctx, "jane@example.com", "JBSWY3DPEHPK3PXP")
	if err != nil || !ok {
		t.Fatalf("expected consume, ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, "jane@example.com"); !errors.Is(err, ErrTOTPSetupNotFound) {
		t.Fatalf("expected not found after consume, got %v", err)
	}
}

func TestTOTPSetupExpires(t *testing.T) {
	store, mr, done := newTOTPSetupStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "a@example.com", "JBSWY3DPEHPK3PXP", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "a@example.com"); !errors.Is(err, ErrTOTPSetupNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestTOTPSetupRecordFailureExhausts(t *testing.T) {
	store, _, done := newTOTPSetupStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "a@example.com", "JBSWY3DPEHPK3PXP", time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		exceeded, err := store.RecordFailure(ctx, "a@example.com", 3)
		if err != nil || exceeded {
			t.Fatalf("failure %d: exceeded=%v err=%v", i, exceeded, err)
		}
	}
	record, err := store.Get(ctx, "a@example.com")
	if err != nil || record.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %+v err=%v", record, err)
	}
	exceeded, err := store.RecordFailure(ctx, "a@example.com", 3)
	if err != nil || !exceeded {
		t.Fatalf("expected exhaustion, exceeded=%v err=%v", exceeded, err)
	}
	if _, err := store.Get(ctx, "a@example.com"); !errors.Is(err, ErrTOTPSetupNotFound) {
		t.Fatalf("expected record dropped, got %v", err)
	}
}

func TestTOTPSetupCorruptRecord(t *testing.T) {
	store, mr, done := newTOTPSetupStoreTest(t)
	defer done()

	if err := mr.Set("test:totp:pending:a@example.com", "garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Get(context.Background(), "a@example.com"); !errors.Is(err, ErrTOTPSetupCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}
