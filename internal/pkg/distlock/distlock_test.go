package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockSingleHolder(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "run-1", time.Minute)
	b := NewRedisLock(client, "run-1", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lease")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "run-2", time.Minute)
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// A different instance releasing the same key must not free the
	// lease it does not own.
	stranger := NewRedisLock(client, "run-2", time.Minute)
	if err := stranger.Release(ctx); err != nil {
		t.Fatalf("stranger release: %v", err)
	}

	b := NewRedisLock(client, "run-2", time.Minute)
	ok, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("lease was freed by a non-owner")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "run-3", time.Minute)
	b := NewRedisLock(client, "run-4", time.Minute)
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire run-3 failed")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("acquire run-4 failed")
	}
}
