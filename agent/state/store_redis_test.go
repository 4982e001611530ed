package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T, opts ...StoreOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := NewRedisStoreWithClient(rdb, opts...)
	if err != nil {
		t.Fatalf("NewRedisStoreWithClient() error = %v", err)
	}
	return store, mr
}

func TestRedisStoreCompareAndSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	st := NewSession("c1", time.Now())
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !mr.Exists("lead:session:c1") {
		t.Fatal("session key not written")
	}

	loaded, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Version != 1 {
		t.Fatalf("Version = %d, want 1", loaded.Version)
	}

	stale := loaded.Clone()
	loaded.Name = "Ana"
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	stale.Name = "Otra"
	if err := store.Save(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Save() stale error = %v, want ErrVersionConflict", err)
	}

	final, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if final.Name != "Ana" {
		t.Fatalf("Name = %q, want Ana", final.Name)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	t.Parallel()

	store, mr := newTestRedisStore(t, WithTTL(time.Hour), WithKeyPrefix("t:"))
	if err := store.Save(context.Background(), NewSession("c1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ttl := mr.TTL("t:c1"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}
}

func TestRedisStoreLoadMissingAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	if _, err := store.Load(ctx, "c1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
	if err := store.Save(ctx, NewSession("c1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "c1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after delete error = %v, want ErrStateNotFound", err)
	}
}
