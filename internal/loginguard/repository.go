package loginguard

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// AttemptsWithin counts attempts for the identity inside the trailing window.
func (r *PGRepository) AttemptsWithin(ctx context.Context, identityKey string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		latest pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), MAX(attempted_at) FROM login_attempts WHERE identity_key = $1 AND attempted_at >= $2`,
		identityKey, since,
	).Scan(&count, &latest)
	if err != nil {
		return 0, time.Time{}, err
	}
	var latestAt time.Time
	if latest.Valid {
		latestAt = latest.Time
	}
	return count, latestAt, nil
}

// RecordAttempt appends an attempt row.
func (r *PGRepository) RecordAttempt(ctx context.Context, identityKey, ipAddress string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_attempts (identity_key, ip_address, attempted_at) VALUES ($1, $2, $3)`,
		identityKey, ipAddress, at,
	)
	return err
}

// ClearAttempts deletes every attempt row for the identity.
func (r *PGRepository) ClearAttempts(ctx context.Context, identityKey string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE identity_key = $1`, identityKey)
	return err
}

// PurgeOlderThan removes attempts older than the cutoff.
func (r *PGRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
