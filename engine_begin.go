package goVerify

import (
	"context"

	"github.com/google/uuid"

	"github.com/MrEthical07/goVerify/internal/stores"
)

// BeginOption adjusts a single Begin call.
type BeginOption func(*beginOptions)

type beginOptions struct {
	destination string
	supersede   bool
}

// WithDestination sets where codes for this instance are delivered, for
// example the address of an email verification.
func WithDestination(destination string) BeginOption {
	return func(o *beginOptions) { o.destination = destination }
}

// WithSupersede discards an active instance even when the policy resumes.
func WithSupersede() BeginOption {
	return func(o *beginOptions) { o.supersede = true }
}

// Begin creates the instance for (principal, kind) or resumes the active
// one, according to the policy's OnBegin mode. Exhausted instances are
// always replaced. A new instance of an IssueOnBegin flow triggers the
// CodeIssuer unless the channel is cooling down, in which case the code
// already outstanding stays valid.
func (e *Engine) Begin(ctx context.Context, principal string, kind FlowKind, opts ...BeginOption) (FlowInstance, error) {
	cp, err := e.prepare(principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	var o beginOptions
	for _, opt := range opts {
		opt(&o)
	}

	release, err := e.lock(ctx, principal, kind)
	if err != nil {
		return FlowInstance{}, err
	}
	defer release()

	inst, outcome, err := e.begin(ctx, cp, principal, kind, o)
	if err != nil {
		e.emitFailure(ctx, auditOpBegin, principal, kind, "", err)
		return FlowInstance{}, err
	}

	snap := cp.snapshot(inst)
	e.emitAudit(ctx, auditRecord{
		op:        auditOpBegin,
		principal: principal,
		kind:      kind,
		flowID:    inst.ID,
		step:      snap.Step,
		outcome:   outcome,
	})
	return snap, nil
}

func (e *Engine) begin(ctx context.Context, cp *compiledPolicy, principal string, kind FlowKind, o beginOptions) (*stores.Instance, string, error) {
	now := e.now()
	key := ledgerKey(principal, kind)

	// Reading the record drops an expired lockout.
	if _, err := e.ledger.Get(ctx, key, now); err != nil {
		return nil, "", transientError("", storeError(err))
	}

	existing, err := e.loadInstance(ctx, principal, kind, now)
	if err != nil {
		return nil, "", transientError("", err)
	}
	if existing != nil && !existing.Exhausted && cp.OnBegin == BeginResume && !o.supersede {
		e.metricInc(MetricBeginResumed)
		return existing, auditOutcomeResumed, nil
	}

	inst := &stores.Instance{
		ID:          uuid.NewString(),
		Principal:   principal,
		Kind:        string(kind),
		Step:        string(cp.first()),
		CreatedAt:   now,
		UpdatedAt:   now,
		Destination: o.destination,
	}
	if inst.Destination == "" && existing != nil {
		inst.Destination = existing.Destination
	}

	if cp.IssueOnBegin {
		wait, err := e.cooldowns.Remaining(ctx, key, cp.Channel, now)
		if err != nil {
			return nil, "", transientError(Step(inst.Step), storeError(err))
		}
		switch {
		case wait <= 0:
			receipt, err := e.issue(ctx, principal, kind, cp.Channel, inst.Destination, now)
			if err != nil {
				e.metricInc(MetricTransientUpstream)
				return nil, "", transientError(Step(inst.Step), err)
			}
			if err := e.cooldowns.Start(ctx, key, cp.Channel, now, cp.ResendCooldown); err != nil {
				return nil, "", transientError(Step(inst.Step), storeError(err))
			}
			inst.Receipt = storedReceipt(receipt)
		case existing != nil:
			inst.Receipt = existing.Receipt
		}
	}

	if cp.RestartResetsAttempts {
		if err := e.ledger.ResetFailures(ctx, key, now); err != nil {
			return nil, "", transientError(Step(inst.Step), storeError(err))
		}
	}

	if err := e.saveInstance(ctx, inst); err != nil {
		return nil, "", transientError(Step(inst.Step), err)
	}

	if existing != nil {
		e.metricInc(MetricBeginSuperseded)
		return inst, auditOutcomeSuperseded, nil
	}
	e.metricInc(MetricBeginNew)
	return inst, auditOutcomeCreated, nil
}
