package limiters

import (
	"context"
	"sync"
	"time"
)

// Cooldowns stores resend deadlines per (key, channel).
type Cooldowns interface {
	Remaining(ctx context.Context, key Key, channel string, now time.Time) (time.Duration, error)
	Start(ctx context.Context, key Key, channel string, now time.Time, d time.Duration) error
}

type cooldownKey struct {
	Key
	channel string
}

// MemoryCooldowns is an in-process Cooldowns.
type MemoryCooldowns struct {
	mu          sync.Mutex
	availableAt map[cooldownKey]time.Time
}

// NewMemoryCooldowns creates an empty in-memory cooldown table.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{availableAt: make(map[cooldownKey]time.Time)}
}

func (c *MemoryCooldowns) Remaining(_ context.Context, key Key, channel string, now time.Time) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cooldownKey{Key: key, channel: channel}
	at, ok := c.availableAt[k]
	if !ok {
		return 0, nil
	}
	if !now.Before(at) {
		delete(c.availableAt, k)
		return 0, nil
	}
	return at.Sub(now), nil
}

func (c *MemoryCooldowns) Start(_ context.Context, key Key, channel string, now time.Time, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.availableAt[cooldownKey{Key: key, channel: channel}] = now.Add(d)
	c.mu.Unlock()
	return nil
}

// Prune drops deadlines that elapsed before now.
func (c *MemoryCooldowns) Prune(_ context.Context, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for k, at := range c.availableAt {
		if !now.Before(at) {
			delete(c.availableAt, k)
			n++
		}
	}
	return n, nil
}
