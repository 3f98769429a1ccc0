package validators

import (
	"context"
	"errors"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/clock"
	"github.com/MrEthical07/goVerify/password"
)

func testHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func TestArgon2Credentials(t *testing.T) {
	hasher := testHasher(t)
	users := NewMemoryUsers(hasher)
	if err := users.SetPassword("alice", "correct-horse"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	v := NewArgon2Credentials(hasher, users)
	ctx := context.Background()

	cases := []struct {
		principal, value string
		want             bool
	}{
		{"alice", "correct-horse", true},
		{"alice", "wrong-horse", false},
		{"mallory", "correct-horse", false},
	}
	for _, tc := range cases {
		got, err := v.Validate(ctx, tc.principal, goVerify.FlowLogin, tc.value)
		if err != nil {
			t.Fatalf("%s/%s: unexpected error %v", tc.principal, tc.value, err)
		}
		if got != tc.want {
			t.Fatalf("%s/%s: expected %v, got %v", tc.principal, tc.value, tc.want, got)
		}
	}
}

func TestArgon2CredentialsUpgradesStaleHash(t *testing.T) {
	ctx := context.Background()
	weak := testHasher(t)
	users := NewMemoryUsers(weak)
	if err := users.SetPassword("alice", "correct-horse"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	old, _, _ := users.PasswordHash(ctx, "alice")

	strong, err := password.NewArgon2(password.Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	v := NewArgon2Credentials(strong, users)

	if ok, err := v.Validate(ctx, "alice", goVerify.FlowLogin, "wrong-horse"); err != nil || ok {
		t.Fatalf("expected rejection, got %v %v", ok, err)
	}
	if h, _, _ := users.PasswordHash(ctx, "alice"); h != old {
		t.Fatal("a failed login must not rewrite the hash")
	}

	if ok, err := v.Validate(ctx, "alice", goVerify.FlowLogin, "correct-horse"); err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	upgraded, _, _ := users.PasswordHash(ctx, "alice")
	if upgraded == old {
		t.Fatal("expected stale hash to be upgraded")
	}
	if stale, err := strong.NeedsRehash(upgraded); err != nil || stale {
		t.Fatalf("upgraded hash still stale: %v %v", stale, err)
	}
	if ok, _ := v.Validate(ctx, "alice", goVerify.FlowLogin, "correct-horse"); !ok {
		t.Fatal("password must still verify after the upgrade")
	}
}

func TestMemoryUsersUpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUsers(testHasher(t))
	if err := users.SetPassword("alice", "first"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	current, _, _ := users.PasswordHash(ctx, "alice")

	_ = users.UpdatePasswordHash(ctx, "alice", "not-the-current-hash", "x")
	if h, _, _ := users.PasswordHash(ctx, "alice"); h != current {
		t.Fatal("update with a stale old hash must be ignored")
	}
}

type brokenLookup struct{}

func (brokenLookup) PasswordHash(context.Context, string) (string, bool, error) {
	return "", false, errors.New("db down")
}

func TestArgon2CredentialsLookupError(t *testing.T) {
	v := NewArgon2Credentials(testHasher(t), brokenLookup{})
	if _, err := v.Validate(context.Background(), "alice", goVerify.FlowLogin, "x"); err == nil {
		t.Fatal("expected lookup error to surface")
	}
}

func TestMemoryUsersCompletesReset(t *testing.T) {
	hasher := testHasher(t)
	users := NewMemoryUsers(hasher)
	_ = users.SetPassword("alice", "old-password")
	v := NewArgon2Credentials(hasher, users)
	ctx := context.Background()

	inst := goVerify.FlowInstance{Principal: "alice", Kind: goVerify.FlowPasswordReset, Step: goVerify.StepCompleted}
	if err := users.Complete(ctx, inst, goVerify.Input{Value: "new-password", Confirm: "new-password"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if ok, _ := v.Validate(ctx, "alice", goVerify.FlowLogin, "new-password"); !ok {
		t.Fatal("expected new password to be active")
	}
	if ok, _ := v.Validate(ctx, "alice", goVerify.FlowLogin, "old-password"); ok {
		t.Fatal("expected old password to be replaced")
	}

	ghost := goVerify.FlowInstance{Principal: "ghost", Kind: goVerify.FlowPasswordReset}
	if err := users.Complete(ctx, ghost, goVerify.Input{Value: "whatever1"}); err != nil {
		t.Fatalf("unknown principal must complete silently, got %v", err)
	}
	if _, ok, _ := users.PasswordHash(ctx, "ghost"); ok {
		t.Fatal("reset must not create accounts")
	}
}

func TestStaticCodes(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStaticCodes(StaticConfig{
		Code:        "424242",
		Secret:      "JBSWY3DPEHPK3PXP",
		BackupCodes: []string{"aaaa-bbbb"},
		TTL:         5 * time.Minute,
		Now:         clk.Now,
	})
	ctx := context.Background()

	r, err := s.Issue(ctx, "p", goVerify.FlowEmailVerification, "email", "p@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if r.Secret != "" || !r.ExpiresAt.Equal(clk.Now().Add(5*time.Minute)) {
		t.Fatalf("unexpected receipt %+v", r)
	}
	r, _ = s.Issue(ctx, "p", goVerify.FlowTwoFactorSetup, "totp", "")
	if r.Secret != "JBSWY3DPEHPK3PXP" || len(r.BackupCodes) != 1 {
		t.Fatalf("expected enrollment material, got %+v", r)
	}
	if s.Issued() != 2 {
		t.Fatalf("expected 2 issued, got %d", s.Issued())
	}

	if ok, _ := s.Validate(ctx, "p", goVerify.FlowEmailVerification, "424242"); !ok {
		t.Fatal("expected static code accepted")
	}
	if ok, _ := s.Validate(ctx, "p", goVerify.FlowEmailVerification, "000000"); ok {
		t.Fatal("expected other code rejected")
	}
}

func TestByKindRouting(t *testing.T) {
	codes := NewStaticCodes(StaticConfig{Code: "111111"})
	login := goVerify.CodeValidatorFunc(func(context.Context, string, goVerify.FlowKind, string) (bool, error) {
		return true, nil
	})
	r := ByKind{Kinds: map[goVerify.FlowKind]goVerify.CodeValidator{goVerify.FlowLogin: login}, Default: codes}
	ctx := context.Background()

	if ok, _ := r.Validate(ctx, "p", goVerify.FlowLogin, "anything"); !ok {
		t.Fatal("expected login route")
	}
	if ok, _ := r.Validate(ctx, "p", goVerify.FlowEmailVerification, "anything"); ok {
		t.Fatal("expected default route to reject")
	}
	if _, err := (ByKind{}).Validate(ctx, "p", goVerify.FlowLogin, "x"); err == nil {
		t.Fatal("expected error without any validator")
	}
}

func TestEngineWithBundledCollaborators(t *testing.T) {
	hasher := testHasher(t)
	users := NewMemoryUsers(hasher)
	_ = users.SetPassword("alice", "old-password")
	codes := NewStaticCodes(StaticConfig{Code: "123456"})

	engine, err := goVerify.New().
		WithCodeValidator(ByKind{
			Kinds:   map[goVerify.FlowKind]goVerify.CodeValidator{goVerify.FlowLogin: NewArgon2Credentials(hasher, users)},
			Default: codes,
		}).
		WithCodeIssuer(codes).
		WithCompletionHandler(users).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	steps := []goVerify.Input{
		{Value: "alice@example.com"},
		{Value: "123456"},
		{Value: "brand-new-pw", Confirm: "brand-new-pw"},
	}
	if _, err := engine.Begin(ctx, "alice", goVerify.FlowPasswordReset); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for _, in := range steps {
		if _, err := engine.Submit(ctx, "alice", goVerify.FlowPasswordReset, in); err != nil {
			t.Fatalf("Submit(%+v) failed: %v", in, err)
		}
	}

	if _, err := engine.Begin(ctx, "alice", goVerify.FlowLogin); err != nil {
		t.Fatalf("Begin login failed: %v", err)
	}
	res, err := engine.Submit(ctx, "alice", goVerify.FlowLogin, goVerify.Input{Value: "brand-new-pw"})
	if err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
	if res.Instance.Step != goVerify.StepAuthenticated {
		t.Fatalf("expected authenticated, got %s", res.Instance.Step)
	}
}
