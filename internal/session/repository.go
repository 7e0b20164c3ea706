package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedash/pulsedash/internal/shared"
)

// Repository defines persistence operations for refresh sessions.
type Repository interface {
	CountActive(ctx context.Context, principalID int64, now time.Time) (int, error)
	DeleteOldest(ctx context.Context, principalID int64, n int, now time.Time) error
	Create(ctx context.Context, rec RefreshRecord) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshRecord, error)
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteByPrincipal(ctx context.Context, principalID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CountActive counts non-expired sessions for the principal.
func (r *PGRepository) CountActive(ctx context.Context, principalID int64, now time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM refresh_sessions WHERE principal_id = $1 AND expires_at > $2`,
		principalID, now,
	).Scan(&count)
	return count, err
}

// DeleteOldest removes the n oldest-by-creation non-expired sessions for the
// principal. The expiry predicate mirrors CountActive so eviction only targets
// rows that were counted; expired rows are left for the sweep job.
func (r *PGRepository) DeleteOldest(ctx context.Context, principalID int64, n int, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM refresh_sessions WHERE id IN (
			SELECT id FROM refresh_sessions
			WHERE principal_id = $1 AND expires_at > $3
			ORDER BY created_at ASC LIMIT $2
		)`,
		principalID, n, now,
	)
	return err
}

// Create inserts a session row.
func (r *PGRepository) Create(ctx context.Context, rec RefreshRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_sessions (id, principal_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.PrincipalID, rec.TokenHash, rec.ExpiresAt.UTC(), rec.CreatedAt.UTC(),
	)
	return err
}

// FindByHash fetches a session by its token digest.
func (r *PGRepository) FindByHash(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	var (
		rec       RefreshRecord
		expiresAt pgtype.Timestamptz
		createdAt pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, principal_id, token_hash, expires_at, created_at
		 FROM refresh_sessions WHERE token_hash = $1`,
		tokenHash,
	).Scan(&rec.ID, &rec.PrincipalID, &rec.TokenHash, &expiresAt, &createdAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	rec.ExpiresAt = expiresAt.Time
	rec.CreatedAt = createdAt.Time
	return &rec, nil
}

// DeleteByHash removes a session by its token digest.
func (r *PGRepository) DeleteByHash(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteByPrincipal removes every session for the principal.
func (r *PGRepository) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE principal_id = $1`, principalID)
	return err
}

// DeleteExpired sweeps sessions past their expiry.
func (r *PGRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
