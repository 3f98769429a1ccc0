package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goVerify/internal/stores"
)

// Instances is a stores.InstanceStore on Postgres. Records use the same
// binary encoding as the Redis store.
type Instances struct {
	db *pgxpool.Pool
}

// NewInstances wraps pool. Run [Migrate] first.
func NewInstances(pool *pgxpool.Pool) *Instances {
	return &Instances{db: pool}
}

func (s *Instances) Get(ctx context.Context, principal, kind string, now time.Time) (*stores.Instance, error) {
	var (
		record    []byte
		expiresAt *time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT record, expires_at FROM flow_instances WHERE kind = $1 AND principal = $2`,
		kind, principal,
	).Scan(&record, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stores.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrInstanceUnavailable, err)
	}
	if expiresAt != nil && !now.Before(*expiresAt) {
		if err := s.Delete(ctx, principal, kind); err != nil {
			return nil, err
		}
		return nil, stores.ErrInstanceNotFound
	}

	inst, err := stores.DecodeInstance(record)
	if err != nil {
		_ = s.Delete(ctx, principal, kind)
		return nil, err
	}
	return inst, nil
}

func (s *Instances) Put(ctx context.Context, inst *stores.Instance, ttl time.Duration) error {
	record, err := stores.EncodeInstance(inst)
	if err != nil {
		return err
	}
	var expiresAt *time.Time
	if ttl > 0 {
		at := inst.UpdatedAt.Add(ttl)
		expiresAt = &at
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO flow_instances (kind, principal, record, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, principal) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`,
		inst.Kind, inst.Principal, record, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", stores.ErrInstanceUnavailable, err)
	}
	return nil
}

func (s *Instances) Delete(ctx context.Context, principal, kind string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM flow_instances WHERE kind = $1 AND principal = $2`,
		kind, principal,
	); err != nil {
		return fmt.Errorf("%w: %v", stores.ErrInstanceUnavailable, err)
	}
	return nil
}

// Prune deletes instances that expired before now.
func (s *Instances) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM flow_instances WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", stores.ErrInstanceUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

var _ stores.InstanceStore = (*Instances)(nil)
