package goVerify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goVerify/internal/inputs"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// Submit evaluates one caller action against the current step.
//
// Checks run in a fixed order and stop at the first that fails: active
// lockout (Locked, the validator is not called), exhausted instance
// (AttemptsExhausted), local validation (InvalidInput, no attempt used),
// then the collaborator (TransientUpstream on error, no attempt used).
// A rejected value records exactly one failure and reports InvalidCode or
// InvalidCredentials with the attempts left, or Locked / AttemptsExhausted
// when that failure hit the cap. An accepted value clears the ledger and
// advances the step.
func (e *Engine) Submit(ctx context.Context, principal string, kind FlowKind, in Input) (SubmitResult, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return SubmitResult{}, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricSubmitLatency, time.Since(start)) }()

	release, err := e.lock(ctx, principal, kind)
	if err != nil {
		return SubmitResult{}, err
	}
	defer release()

	res, inst, err := e.submit(ctx, cp, principal, kind, in)
	flowID := ""
	if inst != nil {
		flowID = inst.ID
	}
	if err != nil {
		e.emitFailure(ctx, auditOpSubmit, principal, kind, flowID, err)
		return SubmitResult{}, err
	}

	outcome := auditOutcomeAdvanced
	if res.Instance.Terminal {
		outcome = auditOutcomeCompleted
	}
	e.emitAudit(ctx, auditRecord{
		op:        auditOpSubmit,
		principal: principal,
		kind:      kind,
		flowID:    flowID,
		step:      res.Instance.Step,
		outcome:   outcome,
		metadata:  map[string]string{"from": string(res.Previous)},
	})
	return res, nil
}

func (e *Engine) submit(ctx context.Context, cp *compiledPolicy, principal string, kind FlowKind, in Input) (SubmitResult, *stores.Instance, error) {
	now := e.now()
	key := ledgerKey(principal, kind)

	rec, err := e.ledger.Get(ctx, key, now)
	if err != nil {
		return SubmitResult{}, nil, transientError("", storeError(err))
	}
	inst, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		return SubmitResult{}, nil, transientError("", err)
	}

	var step Step
	if inst != nil {
		step = Step(inst.Step)
	}
	if rec.Locked(now) {
		e.metricInc(MetricSubmitLocked)
		return SubmitResult{}, inst, lockedError(step, rec.LockRemaining(now))
	}
	if inst == nil {
		return SubmitResult{}, nil, fmt.Errorf("%w: %s", ErrFlowNotFound, kind)
	}
	if inst.Exhausted {
		e.metricInc(MetricAttemptsExhausted)
		return SubmitResult{}, inst, exhaustedError(step)
	}
	sp, ok := cp.step(step)
	if !ok || sp.Terminal {
		return SubmitResult{}, inst, fmt.Errorf("%w: %s at unknown step %q", ErrFlowNotFound, kind, step)
	}

	switch sp.Input {
	case InputCredentials, InputCode:
		res, err := e.submitSecret(ctx, cp, sp, inst, in, now)
		return res, inst, err
	case InputEmail:
		res, err := e.submitEmail(ctx, cp, inst, in, now)
		return res, inst, err
	case InputNewPassword:
		field, err := inputs.NewPassword(in.Value, in.Confirm, sp.MinPasswordLength)
		if err != nil {
			e.metricInc(MetricSubmitInvalidInput)
			return SubmitResult{}, inst, invalidInputError(step, field, err)
		}
		res, err := e.advance(ctx, cp, inst, in, now, false)
		return res, inst, err
	default:
		res, err := e.advance(ctx, cp, inst, in, now, false)
		return res, inst, err
	}
}

// submitSecret handles code and credential steps, the only steps that
// consume attempts.
func (e *Engine) submitSecret(ctx context.Context, cp *compiledPolicy, sp StepPolicy, inst *stores.Instance, in Input, now time.Time) (SubmitResult, error) {
	step := Step(inst.Step)
	kind := FlowKind(inst.Kind)

	field, rejectKind, rejectMetric := "code", KindInvalidCode, MetricSubmitInvalidCode
	var localErr error
	if sp.Input == InputCredentials {
		field, rejectKind, rejectMetric = "credentials", KindInvalidCredentials, MetricSubmitInvalidCredentials
		localErr = inputs.Credentials(in.Value)
	} else {
		localErr = inputs.Code(in.Value, sp.CodeLength)
	}
	if localErr != nil {
		e.metricInc(MetricSubmitInvalidInput)
		return SubmitResult{}, invalidInputError(step, field, localErr)
	}

	ok, err := e.validator.Validate(ctx, inst.Principal, kind, in.Value)
	if err != nil {
		e.metricInc(MetricTransientUpstream)
		return SubmitResult{}, transientError(step, err)
	}
	if ok {
		return e.advance(ctx, cp, inst, in, now, true)
	}

	policy := cp.ledgerPolicy(sp)
	rec, outcome, err := e.ledger.RecordFailure(ctx, ledgerKey(inst.Principal, kind), policy, now)
	if err != nil {
		return SubmitResult{}, transientError(step, storeError(err))
	}

	switch outcome {
	case limiters.FailureLocked:
		e.metricInc(MetricLockoutTriggered)
		e.logger.InfoContext(ctx, "lockout triggered",
			slog.String("kind", string(kind)),
			slog.String("flow_id", inst.ID),
			slog.Duration("duration", policy.LockoutDuration),
		)
		e.emitAudit(ctx, auditRecord{
			op:        auditOpSubmit,
			principal: inst.Principal,
			kind:      kind,
			flowID:    inst.ID,
			step:      step,
			outcome:   auditOutcomeLockoutTriggered,
			wait:      rec.LockRemaining(now),
		})
		return SubmitResult{}, lockedError(step, rec.LockRemaining(now))
	case limiters.FailureRefused:
		e.metricInc(MetricSubmitLocked)
		return SubmitResult{}, lockedError(step, rec.LockRemaining(now))
	case limiters.FailureExhausted:
		inst.Exhausted = true
		inst.UpdatedAt = now
		if err := e.saveInstance(ctx, inst); err != nil {
			return SubmitResult{}, transientError(step, err)
		}
		e.metricInc(MetricAttemptsExhausted)
		return SubmitResult{}, exhaustedError(step)
	}

	e.metricInc(rejectMetric)
	return SubmitResult{}, rejectedError(rejectKind, step, limiters.Remaining(rec, policy))
}

// submitEmail records the destination, issues a code to it and starts the
// resend cooldown. Any valid address moves the flow on; whether an account
// exists behind it is not revealed here.
func (e *Engine) submitEmail(ctx context.Context, cp *compiledPolicy, inst *stores.Instance, in Input, now time.Time) (SubmitResult, error) {
	step := Step(inst.Step)
	if err := inputs.Email(in.Value); err != nil {
		e.metricInc(MetricSubmitInvalidInput)
		return SubmitResult{}, invalidInputError(step, "email", err)
	}
	destination := inputs.NormalizeEmail(in.Value)
	kind := FlowKind(inst.Kind)

	receipt, err := e.issue(ctx, inst.Principal, kind, cp.Channel, destination, now)
	if err != nil {
		e.metricInc(MetricTransientUpstream)
		return SubmitResult{}, transientError(step, err)
	}
	if err := e.cooldowns.Start(ctx, ledgerKey(inst.Principal, kind), cp.Channel, now, cp.ResendCooldown); err != nil {
		return SubmitResult{}, transientError(step, storeError(err))
	}

	inst.Destination = destination
	inst.Receipt = storedReceipt(receipt)
	return e.advance(ctx, cp, inst, in, now, false)
}

// advance moves inst one step forward and persists it. Reaching the
// terminal step signs the ticket, runs the CompletionHandler, clears the
// ledger and removes the instance, in that order, so a failure at any point
// leaves the flow where it was. A store failure after the handler ran means
// the next attempt runs it again.
func (e *Engine) advance(ctx context.Context, cp *compiledPolicy, inst *stores.Instance, in Input, now time.Time, validated bool) (SubmitResult, error) {
	prev := Step(inst.Step)
	kind := FlowKind(inst.Kind)
	key := ledgerKey(inst.Principal, kind)

	next, err := cp.machine.Advance(inst.Step)
	if err != nil {
		return SubmitResult{}, err
	}
	terminal := cp.machine.IsTerminal(next)

	committed := inst.Clone()
	committed.Step = next
	committed.UpdatedAt = now
	res := SubmitResult{Previous: prev, Instance: cp.snapshot(committed)}

	if terminal {
		if e.tickets != nil {
			res.Ticket, err = e.tickets.Sign(inst.Principal, string(kind), inst.ID, next)
			if err != nil {
				return SubmitResult{}, transientError(prev, fmt.Errorf("sign completion ticket: %w", err))
			}
		}
		if e.completion != nil {
			if err := e.completion.Complete(ctx, res.Instance, in); err != nil {
				e.metricInc(MetricTransientUpstream)
				return SubmitResult{}, transientError(prev, err)
			}
		}
	}

	if validated || terminal {
		if err := e.ledger.RecordSuccess(ctx, key, now); err != nil {
			if errors.Is(err, limiters.ErrLedgerLocked) {
				rec, getErr := e.ledger.Get(ctx, key, now)
				if getErr == nil {
					e.metricInc(MetricSubmitLocked)
					return SubmitResult{}, lockedError(prev, rec.LockRemaining(now))
				}
			}
			return SubmitResult{}, transientError(prev, storeError(err))
		}
	}

	if terminal {
		if err := e.instances.Delete(ctx, inst.Principal, inst.Kind); err != nil {
			return SubmitResult{}, transientError(prev, storeError(err))
		}
		e.metricInc(MetricFlowCompleted)
		if res.Ticket != "" {
			e.metricInc(MetricTicketIssued)
		}
	} else if err := e.saveInstance(ctx, committed); err != nil {
		return SubmitResult{}, transientError(prev, err)
	}

	*inst = *committed
	e.metricInc(MetricSubmitSuccess)
	return res, nil
}
