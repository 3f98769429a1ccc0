package goVerify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goVerify/clock"
	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/keylock"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/stores"
)

// Engine runs verification flows. It is safe for concurrent use; every
// mutating operation holds the lock for its (principal, kind) key.
type Engine struct {
	config     Config
	policies   map[FlowKind]*compiledPolicy
	ledger     limiters.Ledger
	cooldowns  limiters.Cooldowns
	instances  stores.InstanceStore
	locker     keylock.Locker
	validator  CodeValidator
	issuer     CodeIssuer
	completion CompletionHandler
	tickets    TicketSigner
	clock      clock.Clock
	logger     *slog.Logger
	audit      *audit.Dispatcher
	metrics    *Metrics
	closers    []func()
}

// Close flushes pending audit events and releases backends the builder
// opened. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// AuditDropped reports audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histogram buckets. With
// metrics disabled it returns empty, non-nil maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Policy returns the policy registered for kind.
func (e *Engine) Policy(kind FlowKind) (FlowPolicy, bool) {
	if e == nil {
		return FlowPolicy{}, false
	}
	cp, ok := e.policies[kind]
	if !ok {
		return FlowPolicy{}, false
	}
	p := cp.FlowPolicy
	p.Steps = append([]StepPolicy(nil), cp.Steps...)
	return p, true
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// prepare resolves the policy and validates the principal shared by every
// operation.
func (e *Engine) prepare(principal string, kind FlowKind) (*compiledPolicy, error) {
	if e == nil || e.clock == nil {
		return nil, ErrEngineNotReady
	}
	cp, ok := e.policies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlowKind, kind)
	}
	if principal == "" {
		return nil, invalidInputError("", "principal", ErrMissingPrincipal)
	}
	return cp, nil
}

func (e *Engine) lock(ctx context.Context, principal string, kind FlowKind) (func(), error) {
	release, err := e.locker.Lock(ctx, ledgerKey(principal, kind).String())
	if err != nil {
		e.metricInc(MetricTransientUpstream)
		if errors.Is(err, keylock.ErrLockUnavailable) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, transientError("", err)
	}
	return release, nil
}

func ledgerKey(principal string, kind FlowKind) limiters.Key {
	return limiters.Key{Principal: principal, Kind: string(kind)}
}

// loadInstance returns nil without error when no live instance exists.
func (e *Engine) loadInstance(ctx context.Context, principal string, kind FlowKind, now time.Time) (*stores.Instance, error) {
	inst, err := e.instances.Get(ctx, principal, string(kind), now)
	switch {
	case err == nil:
		return inst, nil
	case errors.Is(err, stores.ErrInstanceNotFound):
		return nil, nil
	case errors.Is(err, stores.ErrInstanceCorrupt):
		e.logger.WarnContext(ctx, "discarding unreadable flow instance",
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return nil, nil
	}
	return nil, storeError(err)
}

func (e *Engine) saveInstance(ctx context.Context, inst *stores.Instance) error {
	if err := e.instances.Put(ctx, inst, e.config.Store.InstanceTTL); err != nil {
		return storeError(err)
	}
	return nil
}

// storeError tags backend failures so KindOf reports TransientUpstream.
func storeError(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (cp *compiledPolicy) snapshot(inst *stores.Instance) FlowInstance {
	out := FlowInstance{
		ID:          inst.ID,
		Principal:   inst.Principal,
		Kind:        FlowKind(inst.Kind),
		Step:        Step(inst.Step),
		CreatedAt:   inst.CreatedAt,
		UpdatedAt:   inst.UpdatedAt,
		Terminal:    cp.machine.IsTerminal(inst.Step),
		Exhausted:   inst.Exhausted,
		Destination: inst.Destination,
	}
	if r := inst.Receipt; r != nil {
		out.Receipt = &IssueReceipt{
			Channel:     r.Channel,
			Destination: r.Destination,
			Reference:   r.Reference,
			Secret:      r.Secret,
			BackupCodes: append([]string(nil), r.BackupCodes...),
			IssuedAt:    r.IssuedAt,
			ExpiresAt:   r.ExpiresAt,
		}
	}
	return out
}

func storedReceipt(r IssueReceipt) *stores.Receipt {
	return &stores.Receipt{
		Channel:     r.Channel,
		Destination: r.Destination,
		Reference:   r.Reference,
		Secret:      r.Secret,
		BackupCodes: append([]string(nil), r.BackupCodes...),
		IssuedAt:    r.IssuedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

// issue calls the CodeIssuer and fills in the fields it left empty.
func (e *Engine) issue(ctx context.Context, principal string, kind FlowKind, channel, destination string, now time.Time) (IssueReceipt, error) {
	receipt, err := e.issuer.Issue(ctx, principal, kind, channel, destination)
	if err != nil {
		return IssueReceipt{}, err
	}
	if receipt.Channel == "" {
		receipt.Channel = channel
	}
	if receipt.Destination == "" {
		receipt.Destination = destination
	}
	if receipt.IssuedAt.IsZero() {
		receipt.IssuedAt = now
	}
	e.metricInc(MetricIssueSuccess)
	return receipt, nil
}
