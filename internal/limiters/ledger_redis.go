package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRetention = 24 * time.Hour

// recordFailureLua applies ApplyFailure atomically on a hash {fc, lu}.
// Deadlines are unix milliseconds (Lua numbers are doubles).
// KEYS[1] = ledger key
// ARGV[1] = now (ms)
// ARGV[2] = max attempts (<= 0 = unlimited)
// ARGV[3] = lock on exhaust ("1"/"0")
// ARGV[4] = lockout duration (ms)
// ARGV[5] = retention (ms)
//
// Returns {failCount, lockedUntil, outcome}.
var recordFailureLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local fc = tonumber(redis.call('HGET', KEYS[1], 'fc') or '0')
local lu = tonumber(redis.call('HGET', KEYS[1], 'lu') or '0')

if lu > 0 and now >= lu then
  lu = 0
end
if lu > 0 then
  return {fc, lu, 2}
end

fc = fc + 1
local outcome = 0
local maxAttempts = tonumber(ARGV[2])
if maxAttempts > 0 and fc >= maxAttempts then
  local lockout = tonumber(ARGV[4])
  if ARGV[3] == '1' and lockout > 0 then
    fc = 0
    lu = now + lockout
    outcome = 1
  else
    outcome = 3
  end
end

redis.call('HSET', KEYS[1], 'fc', fc, 'lu', lu)
local ttl = tonumber(ARGV[5])
if lu > 0 then
  ttl = ttl + (lu - now)
end
redis.call('PEXPIRE', KEYS[1], ttl)
return {fc, lu, outcome}
`)

// recordSuccessLua clears the record unless a lock is active.
// KEYS[1] = ledger key, ARGV[1] = now (ms). Returns 1 when locked.
var recordSuccessLua = redis.NewScript(`
local lu = tonumber(redis.call('HGET', KEYS[1], 'lu') or '0')
if lu > 0 and tonumber(ARGV[1]) < lu then
  return 1
end
redis.call('DEL', KEYS[1])
return 0
`)

// resetFailuresLua zeroes fc, keeping an active lock.
// KEYS[1] = ledger key, ARGV[1] = now (ms).
var resetFailuresLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local lu = tonumber(redis.call('HGET', KEYS[1], 'lu') or '0')
if lu == 0 or tonumber(ARGV[1]) >= lu then
  redis.call('DEL', KEYS[1])
  return 0
end
redis.call('HSET', KEYS[1], 'fc', 0)
return 1
`)

// RedisLedger keeps ledger records in Redis hashes so several engine
// processes share one view of failures and lockouts.
type RedisLedger struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisLedger creates a Redis-backed ledger. retention is how long an
// idle, unlocked record survives before Redis expires it.
func NewRedisLedger(redisClient redis.UniversalClient, prefix string, retention time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "gv"
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisLedger{redis: redisClient, prefix: prefix, retention: retention}
}

func (l *RedisLedger) key(k Key) string {
	return l.prefix + "l:" + k.String()
}

func (l *RedisLedger) Get(ctx context.Context, key Key, now time.Time) (Record, error) {
	vals, err := l.redis.HMGet(ctx, l.key(key), "fc", "lu").Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	fc, err := hashInt(vals, 0)
	if err != nil {
		return Record{}, err
	}
	lu, err := hashInt(vals, 1)
	if err != nil {
		return Record{}, err
	}

	return Normalize(Record{FailCount: int(fc), LockedUntil: fromMillis(lu)}, now), nil
}

func (l *RedisLedger) RecordFailure(ctx context.Context, key Key, policy Policy, now time.Time) (Record, FailureOutcome, error) {
	lock := "0"
	if policy.LockOnExhaust {
		lock = "1"
	}

	res, err := recordFailureLua.Run(ctx, l.redis,
		[]string{l.key(key)},
		now.UnixMilli(),
		policy.MaxAttempts,
		lock,
		policy.LockoutDuration.Milliseconds(),
		l.retention.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Record{}, FailureCounted, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if len(res) != 3 {
		return Record{}, FailureCounted, fmt.Errorf("%w: unexpected lua result length %d", ErrLedgerUnavailable, len(res))
	}

	return Record{FailCount: int(res[0]), LockedUntil: fromMillis(res[1])}, FailureOutcome(res[2]), nil
}

func (l *RedisLedger) RecordSuccess(ctx context.Context, key Key, now time.Time) error {
	locked, err := recordSuccessLua.Run(ctx, l.redis, []string{l.key(key)}, now.UnixMilli()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if locked == 1 {
		return ErrLedgerLocked
	}
	return nil
}

func (l *RedisLedger) ResetFailures(ctx context.Context, key Key, now time.Time) error {
	if err := resetFailuresLua.Run(ctx, l.redis, []string{l.key(key)}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

func hashInt(vals []interface{}, i int) (int64, error) {
	if i >= len(vals) || vals[i] == nil {
		return 0, nil
	}
	s, ok := vals[i].(string)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected field type %T", ErrLedgerUnavailable, vals[i])
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return n, nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var _ Ledger = (*RedisLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)

// isNil reports a plain cache miss.
func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
