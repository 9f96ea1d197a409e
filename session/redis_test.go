package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "as")
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("as:sid-1") {
		t.Fatalf("expected namespaced key as:sid-1")
	}
	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected data %q", got)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreTouchExtendsTTL(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", []byte("x"), 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(8 * time.Second)
	if err := store.Touch(ctx, "sid-1", 10*time.Second); err != nil {
		t.Fatalf("touch: %v", err)
	}
	mr.FastForward(8 * time.Second)
	if _, err := store.Get(ctx, "sid-1"); err != nil {
		t.Fatalf("expected session to survive after touch: %v", err)
	}
	mr.FastForward(3 * time.Second)
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if err := store.Touch(ctx, "sid-1", time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on touch of missing key, got %v", err)
	}
}

func TestRedisStoreUpdateDoesNotRecreate(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Update(ctx, "sid-1", []byte("x"), time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists("as:sid-1") {
		t.Fatalf("update created a key")
	}

	if err := store.Set(ctx, "sid-1", []byte("x"), 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Update(ctx, "sid-1", []byte("y"), time.Minute); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := mr.Get("as:sid-1"); got != "y" {
		t.Fatalf("unexpected data %q", got)
	}
	if ttl := mr.TTL("as:sid-1"); ttl != time.Minute {
		t.Fatalf("expected ttl reset to 1m, got %v", ttl)
	}
}

func TestRedisStoreTouchZeroTTLPersists(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Set(ctx, "sid-1", []byte("x"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Touch(ctx, "sid-1", 0); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL("as:sid-1"); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}
}

func TestRedisStoreLockIsExclusive(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	token, ok, err := store.Lock(ctx, "sid-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Lock(ctx, "sid-1", time.Minute); err != nil || ok {
		t.Fatalf("second lock should fail: ok=%v err=%v", ok, err)
	}

	if err := store.Unlock(ctx, "sid-1", "wrong-token"); err != nil {
		t.Fatalf("unlock with foreign token: %v", err)
	}
	if _, ok, _ := store.Lock(ctx, "sid-1", time.Minute); ok {
		t.Fatalf("foreign token must not release the lock")
	}

	if err := store.Unlock(ctx, "sid-1", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, err := store.Lock(ctx, "sid-1", time.Minute); err != nil || !ok {
		t.Fatalf("relock after unlock: ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	mr.Close()

	_, err := store.Get(context.Background(), "sid-1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
