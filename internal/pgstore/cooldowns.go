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

// Cooldowns is a limiters.Cooldowns on Postgres.
type Cooldowns struct {
	db *pgxpool.Pool
}

// NewCooldowns wraps pool. Run [Migrate] first.
func NewCooldowns(pool *pgxpool.Pool) *Cooldowns {
	return &Cooldowns{db: pool}
}

func (c *Cooldowns) Remaining(ctx context.Context, key limiters.Key, channel string, now time.Time) (time.Duration, error) {
	var availableAt time.Time
	err := c.db.QueryRow(ctx,
		`SELECT available_at FROM resend_cooldowns
		 WHERE kind = $1 AND channel = $2 AND principal = $3`,
		key.Kind, channel, key.Principal,
	).Scan(&availableAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", limiters.ErrCooldownUnavailable, err)
	}
	if !now.Before(availableAt) {
		return 0, nil
	}
	return availableAt.Sub(now), nil
}

func (c *Cooldowns) Start(ctx context.Context, key limiters.Key, channel string, now time.Time, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO resend_cooldowns (kind, channel, principal, available_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (kind, channel, principal) DO UPDATE SET available_at = EXCLUDED.available_at`,
		key.Kind, channel, key.Principal, now.Add(d),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", limiters.ErrCooldownUnavailable, err)
	}
	return nil
}

// Prune deletes cooldowns that elapsed before now.
func (c *Cooldowns) Prune(ctx context.Context, now time.Time) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM resend_cooldowns WHERE available_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", limiters.ErrCooldownUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

var _ limiters.Cooldowns = (*Cooldowns)(nil)
