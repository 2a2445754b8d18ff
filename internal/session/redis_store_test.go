package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRedisSaveAndLookup(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()
	sess := Session{UserID: "user-123", Email: "a@example.com", DisplayName: "Ada"}

	if err := store.Save(ctx, "hash-1", sess, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.UserID != sess.UserID || got.Email != sess.Email || got.DisplayName != sess.DisplayName {
		t.Errorf("Lookup = %+v, want %+v", got, sess)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be filled on save")
	}
	if !s.Exists("notegate:refresh:hash-1") {
		t.Error("expected prefixed key in redis")
	}
}

func TestRedisLookupExpired(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "short", Session{UserID: "u"}, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Lookup(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRedisRevoke(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for _, hash := range []string{"token-1", "token-2"} {
		if err := store.Save(ctx, hash, Session{UserID: hash}, expiresAt); err != nil {
			t.Fatalf("Save %s failed: %v", hash, err)
		}
	}
	if err := store.Revoke(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked token lookup error = %v", err)
	}
	if got, err := store.Lookup(ctx, "token-2"); err != nil || got.UserID != "token-2" {
		t.Errorf("token-2 lookup = %+v, %v", got, err)
	}
	if err := store.Revoke(ctx, "never-saved"); err != nil {
		t.Errorf("revoking unknown token failed: %v", err)
	}
}
