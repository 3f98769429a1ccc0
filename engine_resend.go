package goVerify

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/stores"
)

// Resend issues a fresh code for the current step. It is refused with
// CooldownActive while the channel's cooldown runs and reports the wait.
// An issuer failure starts no cooldown. An active lockout does not block
// Resend, and a resend never shortens one, even on policies where it
// resets the failure count.
func (e *Engine) Resend(ctx context.Context, principal string, kind FlowKind, channel string) (ResendResult, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return ResendResult{}, err
	}
	if channel == "" {
		channel = cp.Channel
	}

	release, err := e.lock(ctx, principal, kind)
	if err != nil {
		return ResendResult{}, err
	}
	defer release()

	res, inst, err := e.resend(ctx, cp, principal, kind, channel)
	flowID := ""
	if inst != nil {
		flowID = inst.ID
	}
	if err != nil {
		e.emitFailure(ctx, auditOpResend, principal, kind, flowID, err)
		return ResendResult{}, err
	}

	e.emitAudit(ctx, auditRecord{
		op:        auditOpResend,
		principal: principal,
		kind:      kind,
		flowID:    flowID,
		step:      res.Instance.Step,
		outcome:   auditOutcomeIssued,
		wait:      res.NextAvailableIn,
		metadata:  map[string]string{"channel": channel},
	})
	return res, nil
}

func (e *Engine) resend(ctx context.Context, cp *compiledPolicy, principal string, kind FlowKind, channel string) (ResendResult, *stores.Instance, error) {
	now := e.now()
	key := ledgerKey(principal, kind)

	inst, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		return ResendResult{}, nil, transientError("", err)
	}
	if inst == nil {
		return ResendResult{}, nil, fmt.Errorf("%w: %s", ErrFlowNotFound, kind)
	}
	step := Step(inst.Step)
	sp, ok := cp.step(step)
	if !ok || !sp.Resend {
		return ResendResult{}, inst, fmt.Errorf("%w: %s/%s", ErrResendNotAllowed, kind, step)
	}
	if inst.Exhausted {
		e.metricInc(MetricAttemptsExhausted)
		return ResendResult{}, inst, exhaustedError(step)
	}

	wait, err := e.cooldowns.Remaining(ctx, key, channel, now)
	if err != nil {
		return ResendResult{}, inst, transientError(step, storeError(err))
	}
	if wait > 0 {
		e.metricInc(MetricResendCooldown)
		return ResendResult{}, inst, cooldownError(step, wait)
	}

	receipt, err := e.issue(ctx, principal, kind, channel, inst.Destination, now)
	if err != nil {
		e.metricInc(MetricTransientUpstream)
		return ResendResult{}, inst, transientError(step, err)
	}
	if err := e.cooldowns.Start(ctx, key, channel, now, cp.ResendCooldown); err != nil {
		return ResendResult{}, inst, transientError(step, storeError(err))
	}

	if cp.ResendResetsAttempts {
		if err := e.ledger.ResetFailures(ctx, key, now); err != nil {
			return ResendResult{}, inst, transientError(step, storeError(err))
		}
	}

	inst.Receipt = storedReceipt(receipt)
	inst.UpdatedAt = now
	if err := e.saveInstance(ctx, inst); err != nil {
		return ResendResult{}, inst, transientError(step, err)
	}

	e.metricInc(MetricResendSuccess)
	return ResendResult{
		Instance:        cp.snapshot(inst),
		Receipt:         receipt,
		NextAvailableIn: cp.ResendCooldown,
		AttemptsReset:   cp.ResendResetsAttempts,
	}, inst, nil
}

// ResendWait reports how long until Resend is accepted on channel. Zero
// means now.
func (e *Engine) ResendWait(ctx context.Context, principal string, kind FlowKind, channel string) (time.Duration, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return 0, err
	}
	if channel == "" {
		channel = cp.Channel
	}
	wait, err := e.cooldowns.Remaining(ctx, ledgerKey(principal, kind), channel, e.now())
	if err != nil {
		return 0, transientError("", storeError(err))
	}
	return wait, nil
}
