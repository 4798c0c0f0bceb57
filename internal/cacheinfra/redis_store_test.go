package cacheinfra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:", 24*time.Hour), mr
}

func TestRedisStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", []byte("value"), []string{"user:1"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(got) != "value" {
		t.Fatalf("Get() = %q ok=%v err=%v", got, ok, err)
	}

	if !mr.Exists("test:t:user:1") {
		t.Error("expected tag set to exist")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestRedisStore_DeleteByTags(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	_ = store.Set(ctx, "a", []byte("1"), []string{"user:1", "import:5"}, time.Hour)
	_ = store.Set(ctx, "b", []byte("2"), []string{"user:1"}, time.Hour)
	_ = store.Set(ctx, "c", []byte("3"), []string{"user:2"}, time.Hour)

	n, err := store.DeleteByTags(ctx, "user:1", "import:5")
	if err != nil {
		t.Fatalf("DeleteByTags() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, ok, _ := store.Get(ctx, "c"); !ok {
		t.Error("other user entry must survive")
	}
	if mr.Exists("test:t:user:1") {
		t.Error("expected tag set to be dropped")
	}

	n, err = store.DeleteByTags(ctx, "user:1")
	if err != nil || n != 0 {
		t.Errorf("second invalidation = %d, %v", n, err)
	}
}

func TestRedisStore_ReadErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	mr.Close()

	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatal("expected error from closed server")
	}
}
