// Package loginguard tracks failed password attempts per identity and
// enforces a temporary lockout.
//
// Unlike the revocation store this component fails open: losing brute-force
// protection during a storage outage is an availability trade-off, not an
// authorization bypass, so an error here never locks everyone out.
package loginguard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Repository persists login attempt rows.
type Repository interface {
	// AttemptsWithin returns the number of attempts for the identity since the
	// given time and the timestamp of the most recent one.
	AttemptsWithin(ctx context.Context, identityKey string, since time.Time) (int, time.Time, error)
	RecordAttempt(ctx context.Context, identityKey, ipAddress string, at time.Time) error
	ClearAttempts(ctx context.Context, identityKey string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Status reports the lockout decision for an identity.
type Status struct {
	Locked           bool
	RemainingMinutes int
}

// Guard enforces the lockout policy.
type Guard struct {
	repo      Repository
	logger    *slog.Logger
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewGuard constructs a Guard. Zero threshold/window fall back to the
// defaults of 5 attempts in 15 minutes.
func NewGuard(repo Repository, logger *slog.Logger, threshold int, window time.Duration) *Guard {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Guard{repo: repo, logger: logger, threshold: threshold, window: window, now: time.Now}
}

// NormalizeIdentity canonicalizes an email into the identity key stored with
// each attempt, so case and unicode form variants count against one budget.
func NormalizeIdentity(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}

// IsLocked reports whether the identity is locked out and for how much
// longer. The window trails the latest attempt within it, so a steady trickle
// of failures re-arms the clock instead of expiring on a fixed schedule.
// Storage errors fail open.
func (g *Guard) IsLocked(ctx context.Context, identityKey string) Status {
	now := g.now().UTC()
	count, latest, err := g.repo.AttemptsWithin(ctx, identityKey, now.Add(-g.window))
	if err != nil {
		g.logger.Warn("login attempt lookup failed, allowing attempt",
			slog.String("identity", identityKey), slog.Any("error", err))
		return Status{}
	}
	if count < g.threshold {
		return Status{}
	}
	remaining := g.window - now.Sub(latest)
	if remaining <= 0 {
		return Status{}
	}
	minutes := int(remaining.Minutes())
	if remaining > time.Duration(minutes)*time.Minute {
		minutes++
	}
	return Status{Locked: true, RemainingMinutes: minutes}
}

// RecordFailure appends an attempt row. Best-effort.
func (g *Guard) RecordFailure(ctx context.Context, identityKey, ipAddress string) {
	if err := g.repo.RecordAttempt(ctx, identityKey, ipAddress, g.now().UTC()); err != nil {
		g.logger.Warn("record login attempt failed",
			slog.String("identity", identityKey), slog.Any("error", err))
	}
}

// Clear wipes the identity's attempt history after a successful login.
func (g *Guard) Clear(ctx context.Context, identityKey string) {
	if err := g.repo.ClearAttempts(ctx, identityKey); err != nil {
		g.logger.Warn("clear login attempts failed",
			slog.String("identity", identityKey), slog.Any("error", err))
	}
}

// Purge removes attempts older than the retention period. Used by the sweep job.
func (g *Guard) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return g.repo.PurgeOlderThan(ctx, g.now().UTC().Add(-retention))
}
