// Package session caps concurrently valid refresh tokens per principal and
// owns the refresh session rows backing them.
package session

import (
	"context"
	"fmt"
	"time"
)

// Limiter enforces the per-principal session cap. Concurrent logins racing
// the count can transiently exceed the cap by the number of racers; the next
// registration converges back toward it. Exact enforcement under race is a
// documented non-goal.
type Limiter struct {
	repo  Repository
	limit int
	now   func() time.Time
}

// NewLimiter constructs a Limiter. A non-positive limit falls back to 5.
func NewLimiter(repo Repository, limit int) *Limiter {
	if limit <= 0 {
		limit = 5
	}
	return &Limiter{repo: repo, limit: limit, now: time.Now}
}

// Register makes room for exactly one new session and inserts it. At the cap
// it evicts the single oldest session; over the cap it evicts count-limit+1.
// Below the cap no delete statement is issued at all.
func (l *Limiter) Register(ctx context.Context, rec RefreshRecord) error {
	now := l.now().UTC()
	count, err := l.repo.CountActive(ctx, rec.PrincipalID, now)
	if err != nil {
		return fmt.Errorf("session: count active: %w", err)
	}
	if evict := count - l.limit + 1; evict > 0 {
		if err := l.repo.DeleteOldest(ctx, rec.PrincipalID, evict, now); err != nil {
			return fmt.Errorf("session: evict %d oldest: %w", evict, err)
		}
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}
