package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	const workers = 16
	const rounds = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		counter int
	)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				release, err := l.Lock(context.Background(), "login:p1")
				if err != nil {
					t.Errorf("Lock failed: %v", err)
					return
				}
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				counter++

				mu.Lock()
				inside--
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if counter != workers*rounds {
		t.Fatalf("expected %d increments, got %d", workers*rounds, counter)
	}
}

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal()
	exerciseMutualExclusion(t, l)
	if l.Len() != 0 {
		t.Fatalf("expected entries to be released, got %d", l.Len())
	}
}

func TestLocalIndependentKeys(t *testing.T) {
	l := NewLocal()
	releaseA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a failed: %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("different key must not block: %v", err)
	}
	releaseB()
}

func TestLocalLockHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	release()
	if l.Len() != 0 {
		t.Fatalf("expected entry cleanup, got %d", l.Len())
	}
}

func TestRedisMutualExclusion(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// Two lockers model two processes sharing one Redis.
	a := NewRedis(rdb, "gv", time.Second)
	b := NewRedis(rdb, "gv", time.Second)

	releaseA, err := a.Lock(context.Background(), "login:p1")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Lock(ctx, "login:p1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second process must wait for the lease, got %v", err)
	}

	releaseA()
	if mr.Exists("gvk:login:p1") {
		t.Fatal("expected lease key to be deleted on release")
	}

	releaseB, err := b.Lock(context.Background(), "login:p1")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	releaseB()

	exerciseMutualExclusion(t, a)
}

func TestRedisLeaseRenewedWhileHeld(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	const lease = 300 * time.Millisecond
	a := NewRedis(rdb, "gv", lease)
	b := NewRedis(rdb, "gv", lease)
	key := "gvk:login:alice"

	releaseA, err := a.Lock(context.Background(), "login:alice")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Age the lease close to expiry and wait for the holder to extend it.
	mr.FastForward(250 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) <= 100*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("lease was not renewed, ttl %v", mr.TTL(key))
		}
		time.Sleep(10 * time.Millisecond)
	}

	mr.FastForward(250 * time.Millisecond)
	if !mr.Exists(key) {
		t.Fatal("lease expired while still held")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Lock(ctx, "login:alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second process acquired a held key, got %v", err)
	}

	releaseA()
	releaseA()
	if mr.Exists(key) {
		t.Fatal("expected lease key to be deleted on release")
	}
}
