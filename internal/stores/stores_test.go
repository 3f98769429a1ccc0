package stores

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testNow = time.UnixMilli(1_760_000_000_000)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func sampleInstance() *Instance {
	return &Instance{
		ID:          "6f1f2d4e-0000-4000-8000-000000000001",
		Principal:   "alice@example.com",
		Kind:        "two_factor_setup",
		Step:        "verify",
		CreatedAt:   testNow,
		UpdatedAt:   testNow.Add(time.Second),
		Destination: "alice@example.com",
		Receipt: &Receipt{
			Channel:     "totp",
			Reference:   "ref-1",
			Secret:      "JBSWY3DPEHPK3PXP",
			BackupCodes: []string{"aaaa-bbbb", "cccc-dddd"},
			IssuedAt:    testNow,
			ExpiresAt:   testNow.Add(10 * time.Minute),
		},
	}
}

func TestEncodeDecodeInstance(t *testing.T) {
	in := sampleInstance()
	in.Exhausted = true

	data, err := EncodeInstance(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := DecodeInstance(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestDecodeInstanceRejectsGarbage(t *testing.T) {
	data, err := EncodeInstance(sampleInstance())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	cases := map[string][]byte{
		"empty":     nil,
		"version":   append([]byte{9}, data[1:]...),
		"truncated": data[:len(data)-3],
		"trailing":  append(append([]byte(nil), data...), 0),
	}
	for name, blob := range cases {
		if _, err := DecodeInstance(blob); !errors.Is(err, ErrInstanceCorrupt) {
			t.Fatalf("%s: expected ErrInstanceCorrupt, got %v", name, err)
		}
	}
}

func instanceStoreContract(t *testing.T, s InstanceStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "alice@example.com", "two_factor_setup", testNow); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}

	in := sampleInstance()
	if err := s.Put(ctx, in, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := s.Get(ctx, in.Principal, in.Kind, testNow)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != in.ID || got.Step != in.Step || len(got.Receipt.BackupCodes) != 2 {
		t.Fatalf("unexpected instance: %+v", got)
	}

	if _, err := s.Get(ctx, in.Principal, "login", testNow); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("kinds must be isolated, got %v", err)
	}

	next := in.Clone()
	next.Step = "backup"
	if err := s.Put(ctx, next, time.Hour); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	got, err = s.Get(ctx, in.Principal, in.Kind, testNow)
	if err != nil || got.Step != "backup" {
		t.Fatalf("expected replaced instance, got %+v err=%v", got, err)
	}

	if err := s.Delete(ctx, in.Principal, in.Kind); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete(ctx, in.Principal, in.Kind); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if _, err := s.Get(ctx, in.Principal, in.Kind, testNow); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemoryInstanceStoreContract(t *testing.T) {
	instanceStoreContract(t, NewMemoryInstanceStore())
}

func TestRedisInstanceStoreContract(t *testing.T) {
	_, rdb := newTestRedis(t)
	instanceStoreContract(t, NewRedisInstanceStore(rdb, "gv"))
}

func TestMemoryInstanceStoreExpiresLazily(t *testing.T) {
	s := NewMemoryInstanceStore()
	ctx := context.Background()
	in := sampleInstance()

	if err := s.Put(ctx, in, time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := s.Get(ctx, in.Principal, in.Kind, in.UpdatedAt.Add(59*time.Second)); err != nil {
		t.Fatalf("expected live instance, got %v", err)
	}
	if _, err := s.Get(ctx, in.Principal, in.Kind, in.UpdatedAt.Add(time.Minute)); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryInstanceStoreCopiesOnPut(t *testing.T) {
	s := NewMemoryInstanceStore()
	ctx := context.Background()
	in := sampleInstance()

	if err := s.Put(ctx, in, 0); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	in.Step = "mutated"
	in.Receipt.BackupCodes[0] = "mutated"

	got, err := s.Get(ctx, in.Principal, in.Kind, testNow)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Step != "verify" || got.Receipt.BackupCodes[0] != "aaaa-bbbb" {
		t.Fatalf("store shares memory with caller: %+v", got)
	}
}

func TestRedisInstanceStoreKeyAndTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisInstanceStore(rdb, "gv")
	in := sampleInstance()

	if err := s.Put(context.Background(), in, 30*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	key := "gvf:16:two_factor_setup:17:alice@example.com"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q", key)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %v", ttl)
	}
}

func TestRedisInstanceStoreDropsCorruptRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisInstanceStore(rdb, "gv")
	key := "gvf:5:login:3:bob"

	if err := mr.Set(key, "not-a-record"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := s.Get(context.Background(), "bob", "login", testNow); !errors.Is(err, ErrInstanceCorrupt) {
		t.Fatalf("expected ErrInstanceCorrupt, got %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("corrupt record should be removed")
	}
}

func TestRedisInstanceStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisInstanceStore(rdb, "gv")
	mr.Close()

	if _, err := s.Get(context.Background(), "bob", "login", testNow); !errors.Is(err, ErrInstanceUnavailable) {
		t.Fatalf("expected ErrInstanceUnavailable, got %v", err)
	}
}
