package goVerify

import (
	"context"
	"errors"
	"time"
)

// PruneResult counts the rows or entries removed by Prune.
type PruneResult struct {
	Ledger    int64
	Cooldowns int64
	Instances int64
}

// Total is the sum of every removed item.
func (r PruneResult) Total() int64 { return r.Ledger + r.Cooldowns + r.Instances }

type ledgerPruner interface {
	Prune(ctx context.Context, now, cutoff time.Time) (int64, error)
}

type expiryPruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Prune removes expired state from backends that do not expire keys on
// their own. Redis relies on key TTLs and reports nothing. Prune never
// touches an active lockout or a running cooldown.
func (e *Engine) Prune(ctx context.Context) (PruneResult, error) {
	if e == nil || e.clock == nil {
		return PruneResult{}, ErrEngineNotReady
	}
	now := e.now()

	var (
		res  PruneResult
		errs []error
		err  error
	)
	if p, ok := e.ledger.(ledgerPruner); ok {
		res.Ledger, err = p.Prune(ctx, now, now.Add(-e.config.Store.LedgerRetention))
		errs = append(errs, err)
	}
	if p, ok := e.cooldowns.(expiryPruner); ok {
		res.Cooldowns, err = p.Prune(ctx, now)
		errs = append(errs, err)
	}
	if p, ok := e.instances.(expiryPruner); ok {
		res.Instances, err = p.Prune(ctx, now)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return res, transientError("", err)
	}
	return res, nil
}
