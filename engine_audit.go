package goVerify

import (
	"context"
	"errors"
	"time"
)

const (
	auditOpBegin  = "begin"
	auditOpSubmit = "submit"
	auditOpResend = "resend"
	auditOpBack   = "back"
	auditOpAbort  = "abort"
)

const (
	auditOutcomeCreated          = "created"
	auditOutcomeResumed          = "resumed"
	auditOutcomeSuperseded       = "superseded"
	auditOutcomeAdvanced         = "advanced"
	auditOutcomeCompleted        = "completed"
	auditOutcomeIssued           = "issued"
	auditOutcomeCancelled        = "cancelled"
	auditOutcomeLockoutTriggered = "lockout_triggered"
)

type auditRecord struct {
	op        string
	principal string
	kind      FlowKind
	flowID    string
	step      Step
	outcome   string
	wait      time.Duration
	metadata  map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		Operation: rec.op,
		Principal: rec.principal,
		FlowKind:  string(rec.kind),
		FlowID:    rec.flowID,
		Step:      string(rec.step),
		Outcome:   rec.outcome,
		Wait:      rec.wait,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Metadata:  rec.metadata,
	})
}

// emitFailure records a classified error. Unclassified errors are audited
// as "other".
func (e *Engine) emitFailure(ctx context.Context, op, principal string, kind FlowKind, flowID string, err error) {
	if e == nil || e.audit == nil || err == nil {
		return
	}
	rec := auditRecord{
		op:        op,
		principal: principal,
		kind:      kind,
		flowID:    flowID,
		outcome:   KindOf(err).String(),
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		rec.step = fe.Step
		rec.wait = fe.Wait
		if fe.Field != "" {
			rec.metadata = map[string]string{"field": fe.Field}
		}
	}
	e.emitAudit(ctx, rec)
}
