package goVerify

import (
	"context"

	"github.com/MrEthical07/goVerify/internal/limiters"
)

// Status reads the state of (principal, kind) without taking the key lock
// or changing anything. RemainingAttempts refers to the current step, or
// to the flow's first attempt-gated step when no instance exists, and is
// UnlimitedAttempts for steps without a cap.
func (e *Engine) Status(ctx context.Context, principal string, kind FlowKind) (FlowStatus, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return FlowStatus{}, err
	}
	now := e.now()
	key := ledgerKey(principal, kind)

	rec, err := e.ledger.Get(ctx, key, now)
	if err != nil {
		return FlowStatus{}, transientError("", storeError(err))
	}
	inst, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		return FlowStatus{}, transientError("", err)
	}

	st := FlowStatus{
		Kind:              kind,
		Principal:         principal,
		FailCount:         rec.FailCount,
		LockedFor:         rec.LockRemaining(now),
		RemainingAttempts: UnlimitedAttempts,
	}

	sp, gated := cp.gatedStep()
	if inst != nil {
		snap := cp.snapshot(inst)
		st.Instance = &snap
		sp, _ = cp.step(snap.Step)
		gated = sp.gated()
	}
	switch {
	case inst != nil && inst.Exhausted:
		st.RemainingAttempts = 0
	case gated:
		st.RemainingAttempts = limiters.Remaining(rec, cp.ledgerPolicy(sp))
	}

	if cp.Channel != "" {
		wait, err := e.cooldowns.Remaining(ctx, key, cp.Channel, now)
		if err != nil {
			return FlowStatus{}, transientError("", storeError(err))
		}
		st.ResendAvailableIn = wait
	}
	return st, nil
}

// IsLocked reports whether (principal, kind) is inside a lockout window.
func (e *Engine) IsLocked(ctx context.Context, principal string, kind FlowKind) (bool, error) {
	if _, err := e.prepare(principal, kind); err != nil {
		return false, err
	}
	now := e.now()
	rec, err := e.ledger.Get(ctx, ledgerKey(principal, kind), now)
	if err != nil {
		return false, transientError("", storeError(err))
	}
	return rec.Locked(now), nil
}
