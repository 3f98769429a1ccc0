package goVerify

import (
	"context"
	"fmt"
)

// Back returns the instance to the previous step when the current step
// allows it. Navigation never touches the attempt ledger, so moving back
// and forth does not restore attempts.
func (e *Engine) Back(ctx context.Context, principal string, kind FlowKind) (FlowInstance, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	release, err := e.lock(ctx, principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	defer release()

	now := e.now()
	inst, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		err = transientError("", err)
		e.emitFailure(ctx, auditOpBack, principal, kind, "", err)
		return FlowInstance{}, err
	}
	if inst == nil {
		return FlowInstance{}, fmt.Errorf("%w: %s", ErrFlowNotFound, kind)
	}
	if inst.Exhausted {
		err := exhaustedError(Step(inst.Step))
		e.emitFailure(ctx, auditOpBack, principal, kind, inst.ID, err)
		return FlowInstance{}, err
	}

	prev, err := cp.machine.Retreat(inst.Step)
	if err != nil {
		return FlowInstance{}, fmt.Errorf("%w: %s/%s: %v", ErrStepNotNavigable, kind, inst.Step, err)
	}
	from := inst.Step
	inst.Step = prev
	inst.UpdatedAt = now
	if err := e.saveInstance(ctx, inst); err != nil {
		err = transientError(Step(from), err)
		e.emitFailure(ctx, auditOpBack, principal, kind, inst.ID, err)
		return FlowInstance{}, err
	}

	e.metricInc(MetricNavigateBack)
	snap := cp.snapshot(inst)
	e.emitAudit(ctx, auditRecord{
		op:        auditOpBack,
		principal: principal,
		kind:      kind,
		flowID:    inst.ID,
		step:      snap.Step,
		outcome:   auditOutcomeAdvanced,
		metadata:  map[string]string{"from": from},
	})
	return snap, nil
}

// Abort cancels the active instance. The ledger and cooldowns are left as
// they are; aborting is not a way out of a lockout.
func (e *Engine) Abort(ctx context.Context, principal string, kind FlowKind) (FlowInstance, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	release, err := e.lock(ctx, principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	defer release()

	now := e.now()
	inst, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		return FlowInstance{}, transientError("", err)
	}
	if inst == nil {
		return FlowInstance{}, fmt.Errorf("%w: %s", ErrFlowNotFound, kind)
	}
	if err := e.instances.Delete(ctx, principal, string(kind)); err != nil {
		err = transientError(Step(inst.Step), storeError(err))
		e.emitFailure(ctx, auditOpAbort, principal, kind, inst.ID, err)
		return FlowInstance{}, err
	}

	from := inst.Step
	snap := cp.snapshot(inst)
	snap.Step = StepCancelled
	snap.Terminal = true
	snap.UpdatedAt = now

	e.metricInc(MetricFlowAborted)
	e.emitAudit(ctx, auditRecord{
		op:        auditOpAbort,
		principal: principal,
		kind:      kind,
		flowID:    inst.ID,
		step:      StepCancelled,
		outcome:   auditOutcomeCancelled,
		metadata:  map[string]string{"from": from},
	})
	return snap, nil
}
