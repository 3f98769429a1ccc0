package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goVerify/internal/limiters"
)

// Ledger is a limiters.Ledger on Postgres. Each mutation runs in its own
// transaction holding a row lock, and applies the same transitions as the
// memory and Redis backends.
type Ledger struct {
	db *pgxpool.Pool
}

// NewLedger wraps pool. Run [Migrate] first.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{db: pool}
}

func (l *Ledger) Get(ctx context.Context, key limiters.Key, now time.Time) (limiters.Record, error) {
	var (
		count       int
		lockedUntil *time.Time
	)
	err := l.db.QueryRow(ctx,
		`SELECT fail_count, locked_until FROM attempt_ledger WHERE kind = $1 AND principal = $2`,
		key.Kind, key.Principal,
	).Scan(&count, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return limiters.Record{}, nil
	}
	if err != nil {
		return limiters.Record{}, fmt.Errorf("%w: %v", limiters.ErrLedgerUnavailable, err)
	}
	return limiters.Normalize(toRecord(count, lockedUntil), now), nil
}

func (l *Ledger) RecordFailure(ctx context.Context, key limiters.Key, policy limiters.Policy, now time.Time) (limiters.Record, limiters.FailureOutcome, error) {
	var outcome limiters.FailureOutcome
	rec, err := l.update(ctx, key, now, func(r limiters.Record) (limiters.Record, error) {
		var next limiters.Record
		next, outcome = limiters.ApplyFailure(r, policy, now)
		return next, nil
	})
	if err != nil {
		return limiters.Record{}, 0, err
	}
	return rec, outcome, nil
}

func (l *Ledger) RecordSuccess(ctx context.Context, key limiters.Key, now time.Time) error {
	_, err := l.update(ctx, key, now, func(r limiters.Record) (limiters.Record, error) {
		return limiters.ApplySuccess(r, now)
	})
	return err
}

func (l *Ledger) ResetFailures(ctx context.Context, key limiters.Key, now time.Time) error {
	_, err := l.update(ctx, key, now, func(r limiters.Record) (limiters.Record, error) {
		r = limiters.Normalize(r, now)
		r.FailCount = 0
		return r, nil
	})
	return err
}

// Prune deletes idle rows last touched before cutoff.
func (l *Ledger) Prune(ctx context.Context, now, cutoff time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx,
		`DELETE FROM attempt_ledger
		 WHERE updated_at < $1 AND (locked_until IS NULL OR locked_until <= $2)`,
		cutoff, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", limiters.ErrLedgerUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// update locks the row for key, applies fn and writes the result back.
// Errors returned by fn abort the transaction and are passed through as is.
func (l *Ledger) update(ctx context.Context, key limiters.Key, now time.Time, fn func(limiters.Record) (limiters.Record, error)) (limiters.Record, error) {
	var (
		out   limiters.Record
		fnErr error
	)
	err := pgx.BeginFunc(ctx, l.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO attempt_ledger (kind, principal, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (kind, principal) DO NOTHING`,
			key.Kind, key.Principal, now,
		); err != nil {
			return err
		}

		var (
			count       int
			lockedUntil *time.Time
		)
		if err := tx.QueryRow(ctx,
			`SELECT fail_count, locked_until FROM attempt_ledger
			 WHERE kind = $1 AND principal = $2 FOR UPDATE`,
			key.Kind, key.Principal,
		).Scan(&count, &lockedUntil); err != nil {
			return err
		}

		out, fnErr = fn(toRecord(count, lockedUntil))
		if fnErr != nil {
			return fnErr
		}

		_, err := tx.Exec(ctx,
			`UPDATE attempt_ledger SET fail_count = $3, locked_until = $4, updated_at = $5
			 WHERE kind = $1 AND principal = $2`,
			key.Kind, key.Principal, out.FailCount, nullableTime(out.LockedUntil), now,
		)
		return err
	})
	if fnErr != nil {
		return limiters.Record{}, fnErr
	}
	if err != nil {
		return limiters.Record{}, fmt.Errorf("%w: %v", limiters.ErrLedgerUnavailable, err)
	}
	return out, nil
}

func toRecord(count int, lockedUntil *time.Time) limiters.Record {
	r := limiters.Record{FailCount: count}
	if lockedUntil != nil {
		r.LockedUntil = *lockedUntil
	}
	return r
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ limiters.Ledger = (*Ledger)(nil)
