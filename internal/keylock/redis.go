package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL  = 10 * time.Second
	defaultRetryWait = 10 * time.Millisecond
	maxRetryWait     = 200 * time.Millisecond
)

// releaseLua deletes the lease only if we still own it.
var releaseLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// renewLua extends the lease only if we still own it.
var renewLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lease lock shared across processes. While held, the lease is
// renewed every LeaseTTL/3, so a slow holder keeps it; a crashed holder
// blocks the key for at most LeaseTTL.
type Redis struct {
	redis    redis.UniversalClient
	prefix   string
	leaseTTL time.Duration
	local    *Local
}

// NewRedis creates a Redis-backed locker. Callers in the same process are
// first queued on a Local locker so they do not spin on Redis.
func NewRedis(redisClient redis.UniversalClient, prefix string, leaseTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = "gv"
	}
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	return &Redis{
		redis:    redisClient,
		prefix:   prefix,
		leaseTTL: leaseTTL,
		local:    NewLocal(),
	}
}

// Lock acquires the lease for key, retrying with capped backoff until ctx
// is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := r.prefix + "k:" + key
	token := uuid.NewString()
	wait := defaultRetryWait

	for {
		ok, err := r.redis.SetNX(ctx, redisKey, token, r.leaseTTL).Result()
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("%w: %v", ErrLockUnavailable, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			releaseLocal()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < maxRetryWait {
			wait *= 2
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must survive a cancelled request context.
			_ = releaseLua.Run(context.Background(), r.redis, []string{redisKey}, token).Err()
			releaseLocal()
		})
	}, nil
}

// renew keeps the lease alive until stop is closed or ownership is lost.
func (r *Redis) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.leaseTTL / 3
	if interval <= 0 {
		interval = r.leaseTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewLua.Run(ctx, r.redis, []string{redisKey}, token, r.leaseTTL.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

var _ Locker = (*Redis)(nil)
var _ Locker = (*Local)(nil)
