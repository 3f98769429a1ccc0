package goVerify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goVerify/clock"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	validCredentials = "correct-horse-battery"
	validCode        = "123456"
)

type fakeValidator struct {
	calls atomic.Int64

	mu    sync.Mutex
	valid map[FlowKind]string
	err   error
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{
		valid: map[FlowKind]string{
			FlowLogin:             validCredentials,
			FlowEmailVerification: validCode,
			FlowPasswordReset:     validCode,
			FlowTwoFactorSetup:    validCode,
		},
	}
}

func (v *fakeValidator) Validate(_ context.Context, _ string, kind FlowKind, value string) (bool, error) {
	v.calls.Add(1)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return false, v.err
	}
	return v.valid[kind] == value, nil
}

func (v *fakeValidator) fail(err error) {
	v.mu.Lock()
	v.err = err
	v.mu.Unlock()
}

type fakeIssuer struct {
	calls atomic.Int64

	mu  sync.Mutex
	err error
}

func (i *fakeIssuer) Issue(_ context.Context, principal string, kind FlowKind, channel, destination string) (IssueReceipt, error) {
	i.mu.Lock()
	err := i.err
	i.mu.Unlock()
	if err != nil {
		return IssueReceipt{}, err
	}

	n := i.calls.Add(1)
	r := IssueReceipt{Reference: fmt.Sprintf("ref-%d", n)}
	if channel == "totp" {
		r.Secret = "JBSWY3DPEHPK3PXP"
		r.BackupCodes = []string{"a1b2c3d4", "e5f6a7b8"}
	}
	return r, nil
}

func (i *fakeIssuer) fail(err error) {
	i.mu.Lock()
	i.err = err
	i.mu.Unlock()
}

type testHarness struct {
	engine    *Engine
	clock     *clock.Manual
	validator *fakeValidator
	issuer    *fakeIssuer
}

var testBackends = []string{"memory", "redis"}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newHarness(t *testing.T, backend string, configure ...func(*Builder)) *testHarness {
	t.Helper()

	h := &testHarness{
		clock:     clock.NewManual(testEpoch),
		validator: newFakeValidator(),
		issuer:    &fakeIssuer{},
	}
	b := New().
		WithClock(h.clock).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithCodeValidator(h.validator).
		WithCodeIssuer(h.issuer).
		WithMetricsEnabled(true)
	if backend == "redis" {
		_, rdb := newTestRedis(t)
		b.WithRedis(rdb)
	}
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// eachBackend runs fn once per store backend.
func eachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	t.Helper()
	for _, backend := range testBackends {
		t.Run(backend, func(t *testing.T) { fn(t, backend) })
	}
}

func requireKind(t *testing.T, err error, want ErrorKind) *FlowError {
	t.Helper()
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
	var fe *FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FlowError, got %T", err)
	}
	return fe
}

func (h *testHarness) mustBegin(t *testing.T, principal string, kind FlowKind, opts ...BeginOption) FlowInstance {
	t.Helper()
	inst, err := h.engine.Begin(context.Background(), principal, kind, opts...)
	if err != nil {
		t.Fatalf("Begin(%s, %s) failed: %v", principal, kind, err)
	}
	return inst
}

func (h *testHarness) submit(principal string, kind FlowKind, value string) (SubmitResult, error) {
	return h.engine.Submit(context.Background(), principal, kind, Input{Value: value})
}

func (h *testHarness) mustSubmit(t *testing.T, principal string, kind FlowKind, in Input) SubmitResult {
	t.Helper()
	res, err := h.engine.Submit(context.Background(), principal, kind, in)
	if err != nil {
		t.Fatalf("Submit(%s, %s) failed: %v", principal, kind, err)
	}
	return res
}

func (h *testHarness) status(t *testing.T, principal string, kind FlowKind) FlowStatus {
	t.Helper()
	st, err := h.engine.Status(context.Background(), principal, kind)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return st
}
