package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/storage"
)

func setupTestStore(t *testing.T, ttl string) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		KeyPrefix:    "test:session:",
		TTL:          ttl,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg, "user@example.com")
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestStore_SaveLoad(t *testing.T) {
	store, mr := setupTestStore(t, "0s")
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Load on empty store = %v, want ErrNotFound", err)
	}

	payload := []byte(`{"version":1,"cookies":[]}`)
	if err := store.Save(ctx, payload); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Load = %s, want %s", got, payload)
	}

	if !mr.Exists("test:session:user@example.com") {
		t.Error("expected session key to exist in redis")
	}
	if ttl := mr.TTL("test:session:user@example.com"); ttl != 0 {
		t.Errorf("expected no TTL, got %v", ttl)
	}
}

func TestStore_TTL(t *testing.T) {
	store, mr := setupTestStore(t, "1h")
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if err := store.Save(ctx, []byte("x")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ttl := mr.TTL(store.Key()); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load after expiry = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, mr := setupTestStore(t, "0s")
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if err := store.Save(ctx, []byte("x")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if mr.Exists(store.Key()) {
		t.Error("expected key to be removed")
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(config.RedisConfig{
		Host:         addr,
		DialTimeout:  "100ms",
		ReadTimeout:  "100ms",
		WriteTimeout: "100ms",
	}, "user")
	if err == nil {
		t.Fatal("expected error connecting to closed redis")
	}
}
