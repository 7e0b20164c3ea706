// Package revocation keeps the cache-backed record of revoked tokens and of
// per-principal "everything issued before T is void" markers.
//
// Reads fail closed: an unreachable cache is answered as "revoked". An
// availability failure must never become an authorization bypass. Writes are
// best-effort; the read-side behavior is the safety net.
package revocation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistPrefix   = "blacklist:"
	invalidatedPrefix = "user-invalidated:"
)

// Store records revocations in the shared cache. Entries are TTL-bound to the
// maximum lifetime of what they protect, so the cache never accumulates keys
// for tokens that could no longer verify anyway.
type Store struct {
	client      *redis.Client
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
}

// NewStore constructs a revocation Store.
func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client:      client,
		logger:      logger,
		callTimeout: 2 * time.Second,
		now:         time.Now,
	}
}

// IsRevoked reports whether the token digest has been revoked. A cache error
// or timeout is reported as revoked.
func (s *Store) IsRevoked(ctx context.Context, digest string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	err := s.client.Get(ctx, blacklistPrefix+digest).Err()
	if err == nil {
		return true
	}
	if err == redis.Nil {
		return false
	}
	s.logger.Error("revocation lookup failed, treating token as revoked", slog.Any("error", err))
	return true
}

// InvalidatedSince returns the cutoff before which all of the principal's
// tokens are void, and whether such a cutoff exists. A cache error yields
// (now, true): every previously issued token is treated as invalidated.
func (s *Store) InvalidatedSince(ctx context.Context, principalID int64) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, invalidatedPrefix+strconv.FormatInt(principalID, 10)).Result()
	if err == redis.Nil {
		return time.Time{}, false
	}
	if err != nil {
		s.logger.Error("invalidation lookup failed, treating all tokens as invalidated",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
		return s.now().UTC(), true
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Error("invalidation marker corrupt, treating all tokens as invalidated",
			slog.Int64("principal_id", principalID), slog.String("value", raw))
		return s.now().UTC(), true
	}
	return time.Unix(unix, 0).UTC(), true
}

// Revoke marks a single token digest as void for ttl. Best-effort: a cache
// failure is logged, never returned.
func (s *Store) Revoke(ctx context.Context, digest string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.client.Set(ctx, blacklistPrefix+digest, "1", ttl).Err(); err != nil {
		s.logger.Error("token revocation write failed", slog.Any("error", err))
	}
}

// InvalidateAll voids every token issued to the principal before now. The
// marker lives as long as the longest-lived token it protects.
func (s *Store) InvalidateAll(ctx context.Context, principalID int64, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	key := invalidatedPrefix + strconv.FormatInt(principalID, 10)
	value := strconv.FormatInt(s.now().UTC().Unix(), 10)
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Error("session invalidation write failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}
