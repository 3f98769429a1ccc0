package limiters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldowns stores availableAt (unix ms) as a plain string key whose
// TTL only serves cleanup; readers always compare against the supplied now.
type RedisCooldowns struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewRedisCooldowns creates a Redis-backed cooldown table.
func NewRedisCooldowns(redisClient redis.UniversalClient, prefix string, grace time.Duration) *RedisCooldowns {
	if prefix == "" {
		prefix = "gv"
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &RedisCooldowns{redis: redisClient, prefix: prefix, grace: grace}
}

func (c *RedisCooldowns) key(k Key, channel string) string {
	return c.prefix + "c:" + joinParts(k.Kind, channel, k.Principal)
}

func (c *RedisCooldowns) Remaining(ctx context.Context, key Key, channel string, now time.Time) (time.Duration, error) {
	at, err := c.redis.Get(ctx, c.key(key, channel)).Int64()
	if err != nil {
		if isNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}

	left := time.UnixMilli(at).Sub(now)
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

func (c *RedisCooldowns) Start(ctx context.Context, key Key, channel string, now time.Time, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	at := now.Add(d).UnixMilli()
	if err := c.redis.Set(ctx, c.key(key, channel), at, d+c.grace).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return nil
}

var _ Cooldowns = (*RedisCooldowns)(nil)
var _ Cooldowns = (*MemoryCooldowns)(nil)
