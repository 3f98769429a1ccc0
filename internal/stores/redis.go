package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisInstanceStore keeps encoded instances under one key per
// (kind, principal). Expiry is delegated to the key TTL.
type RedisInstanceStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisInstanceStore creates a Redis-backed instance store.
func NewRedisInstanceStore(redisClient redis.UniversalClient, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "gv"
	}
	return &RedisInstanceStore{redis: redisClient, prefix: prefix}
}

// key length-prefixes kind and principal so neither can spill into the other.
func (s *RedisInstanceStore) key(principal, kind string) string {
	return s.prefix + "f:" + strconv.Itoa(len(kind)) + ":" + kind + ":" + strconv.Itoa(len(principal)) + ":" + principal
}

func (s *RedisInstanceStore) Get(ctx context.Context, principal, kind string, _ time.Time) (*Instance, error) {
	data, err := s.redis.Get(ctx, s.key(principal, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInstanceUnavailable, err)
	}

	inst, err := DecodeInstance(data)
	if err != nil {
		// A blob we cannot read is as good as gone.
		_ = s.redis.Del(ctx, s.key(principal, kind)).Err()
		return nil, err
	}
	return inst, nil
}

func (s *RedisInstanceStore) Put(ctx context.Context, inst *Instance, ttl time.Duration) error {
	encoded, err := EncodeInstance(inst)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(inst.Principal, inst.Kind), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInstanceUnavailable, err)
	}
	return nil
}

func (s *RedisInstanceStore) Delete(ctx context.Context, principal, kind string) error {
	if err := s.redis.Del(ctx, s.key(principal, kind)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInstanceUnavailable, err)
	}
	return nil
}

var _ InstanceStore = (*RedisInstanceStore)(nil)
