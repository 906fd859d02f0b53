package auth

import (
	"context"
	"testing"
	"time"

	"filecrate/internal/redisutil"
	"filecrate/internal/testsupport/redisstub"
)

func newStubTokenStore(t *testing.T) *RedisTokenStore {
	t.Helper()
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("failed to start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})
	store, err := NewRedisTokenStore(redisutil.ClientConfig{
		Addr:     srv.Addr(),
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("create token store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestRedisTokenStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newStubTokenStore(t)

	if err := store.Set(ctx, "auth_token-1", "user-1", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "auth_token-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || value != "user-1" {
		t.Fatalf("expected user-1, got %q ok=%v", value, ok)
	}

	// Overwrite keeps the latest value.
	if err := store.Set(ctx, "auth_token-1", "user-2", time.Minute); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	value, ok, err = store.Get(ctx, "auth_token-1")
	if err != nil || !ok || value != "user-2" {
		t.Fatalf("expected overwritten value user-2, got %q ok=%v err=%v", value, ok, err)
	}

	if err := store.Delete(ctx, "auth_token-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "auth_token-1"); ok {
		t.Fatal("expected deleted key to be absent")
	}

	// Deleting an absent key is not an error.
	if err := store.Delete(ctx, "auth_token-1"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestRedisTokenStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := newStubTokenStore(t)

	if err := store.Set(ctx, "auth_token-2", "user-1", time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "auth_token-2"); ok {
		t.Fatal("expected expired key to be absent")
	}
}

func TestRedisTokenStoreMissingKey(t *testing.T) {
	store := newStubTokenStore(t)
	if _, ok, err := store.Get(context.Background(), "auth_never-set"); ok || err != nil {
		t.Fatalf("expected missing key to be absent, ok=%v err=%v", ok, err)
	}
}
