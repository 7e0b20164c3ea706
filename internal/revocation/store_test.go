package revocation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, slog.Default()), mr
}

func TestRevokeThenIsRevoked(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if store.IsRevoked(ctx, "digest-a") {
		t.Fatalf("fresh digest reported revoked")
	}
	store.Revoke(ctx, "digest-a", time.Minute)
	if !store.IsRevoked(ctx, "digest-a") {
		t.Fatalf("revoked digest reported valid")
	}
	if store.IsRevoked(ctx, "digest-b") {
		t.Fatalf("unrelated digest reported revoked")
	}
}

func TestIsRevokedFailsClosed(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	if !store.IsRevoked(context.Background(), "never-revoked") {
		t.Fatalf("expected fail-closed true with unreachable cache")
	}
}

func TestInvalidatedSince(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok := store.InvalidatedSince(ctx, 7); ok {
		t.Fatalf("expected no marker for fresh principal")
	}
	store.InvalidateAll(ctx, 7, time.Hour)
	cutoff, ok := store.InvalidatedSince(ctx, 7)
	if !ok {
		t.Fatalf("expected marker after InvalidateAll")
	}
	if time.Since(cutoff) > time.Minute {
		t.Fatalf("cutoff not near now: %v", cutoff)
	}
}

func TestInvalidatedSinceFailsClosed(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	cutoff, ok := store.InvalidatedSince(context.Background(), 7)
	if !ok {
		t.Fatalf("expected fail-closed marker with unreachable cache")
	}
	if time.Since(cutoff) > time.Minute {
		t.Fatalf("fail-closed cutoff should be now, got %v", cutoff)
	}
}

func TestWritesSwallowCacheErrors(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	// Must not panic or block; failures are logged only.
	store.Revoke(context.Background(), "digest", time.Minute)
	store.InvalidateAll(context.Background(), 7, time.Hour)
}

func TestRevocationEntryExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Revoke(ctx, "digest-a", time.Minute)
	mr.FastForward(2 * time.Minute)
	if store.IsRevoked(ctx, "digest-a") {
		t.Fatalf("expected entry to expire with its ttl")
	}
}
