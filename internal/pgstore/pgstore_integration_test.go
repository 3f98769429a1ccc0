//go:build integration

package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

var itNow = time.UnixMilli(1_760_000_000_000)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("GOVERIFY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GOVERIFY_TEST_DATABASE_URL not set")
	}
	if err := Migrate(dsn, slog.Default()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	pool, err := NewPool(context.Background(), dsn, PoolConfig{MaxConns: 4}, slog.Default())
	if err != nil {
		t.Fatalf("pool failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// uniqueKey keeps parallel runs against one database apart.
func uniqueKey(kind string) limiters.Key {
	return limiters.Key{Principal: uuid.NewString(), Kind: kind}
}

func TestLedgerLocksAndUnlocks(t *testing.T) {
	l := NewLedger(newTestPool(t))
	ctx := context.Background()
	key := uniqueKey("login")
	policy := limiters.Policy{MaxAttempts: 3, LockOnExhaust: true, LockoutDuration: 5 * time.Minute}

	for i := 1; i <= 2; i++ {
		rec, outcome, err := l.RecordFailure(ctx, key, policy, itNow)
		if err != nil || outcome != limiters.FailureCounted || rec.FailCount != i {
			t.Fatalf("failure %d: rec=%+v outcome=%v err=%v", i, rec, outcome, err)
		}
	}
	rec, outcome, err := l.RecordFailure(ctx, key, policy, itNow)
	if err != nil || outcome != limiters.FailureLocked {
		t.Fatalf("expected lock, got outcome=%v err=%v", outcome, err)
	}
	if got := rec.LockRemaining(itNow); got != 5*time.Minute {
		t.Fatalf("expected 5m lock, got %v", got)
	}

	if _, outcome, _ := l.RecordFailure(ctx, key, policy, itNow.Add(time.Minute)); outcome != limiters.FailureRefused {
		t.Fatalf("expected refusal while locked, got %v", outcome)
	}
	if err := l.RecordSuccess(ctx, key, itNow.Add(time.Minute)); !errors.Is(err, limiters.ErrLedgerLocked) {
		t.Fatalf("expected ErrLedgerLocked, got %v", err)
	}

	after := itNow.Add(5 * time.Minute)
	got, err := l.Get(ctx, key, after)
	if err != nil || got.Locked(after) || got.FailCount != 0 {
		t.Fatalf("expected clean record after expiry, got %+v err=%v", got, err)
	}
	if err := l.RecordSuccess(ctx, key, after); err != nil {
		t.Fatalf("success after expiry failed: %v", err)
	}
}

func TestLedgerResetFailuresKeepsLock(t *testing.T) {
	l := NewLedger(newTestPool(t))
	ctx := context.Background()
	key := uniqueKey("email_verification")
	policy := limiters.Policy{MaxAttempts: 1, LockOnExhaust: true, LockoutDuration: time.Minute}

	if _, _, err := l.RecordFailure(ctx, key, policy, itNow); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := l.ResetFailures(ctx, key, itNow); err != nil {
		t.Fatalf("ResetFailures failed: %v", err)
	}
	rec, err := l.Get(ctx, key, itNow)
	if err != nil || !rec.Locked(itNow) {
		t.Fatalf("reset must not clear the lock, got %+v err=%v", rec, err)
	}
}

func TestCooldowns(t *testing.T) {
	c := NewCooldowns(newTestPool(t))
	ctx := context.Background()
	key := uniqueKey("email_verification")

	if err := c.Start(ctx, key, "email", itNow, time.Minute); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got, _ := c.Remaining(ctx, key, "email", itNow.Add(20*time.Second)); got != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %v", got)
	}
	if got, _ := c.Remaining(ctx, key, "sms", itNow); got != 0 {
		t.Fatalf("channels must be isolated, got %v", got)
	}
	if got, _ := c.Remaining(ctx, key, "email", itNow.Add(time.Minute)); got != 0 {
		t.Fatalf("expected elapsed cooldown, got %v", got)
	}
}

func TestInstances(t *testing.T) {
	s := NewInstances(newTestPool(t))
	ctx := context.Background()
	inst := &stores.Instance{
		ID:        uuid.NewString(),
		Principal: uuid.NewString(),
		Kind:      "password_reset",
		Step:      "awaiting_reset_code",
		CreatedAt: itNow,
		UpdatedAt: itNow,
	}

	if err := s.Put(ctx, inst, time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, inst.Principal, inst.Kind, itNow)
	if err != nil || got.ID != inst.ID || got.Step != inst.Step {
		t.Fatalf("unexpected instance %+v err=%v", got, err)
	}
	if _, err := s.Get(ctx, inst.Principal, inst.Kind, itNow.Add(time.Minute)); !errors.Is(err, stores.ErrInstanceNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
