package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsedash/pulsedash/internal/platform/db"
)

// ledgerLockKey is the single fixed advisory-lock key serializing appends.
// One key for the whole ledger: the chain has one global order.
const ledgerLockKey int64 = 0x61756469

// TxRepository exposes the append steps that must run under the ledger lock.
type TxRepository interface {
	// LastEntryHash returns the entry hash of the newest row, or GenesisHash
	// when the table is empty.
	LastEntryHash(ctx context.Context) (string, error)
	Insert(ctx context.Context, e Entry, previousHash string) (int64, time.Time, error)
	SetEntryHash(ctx context.Context, id int64, hash string) error
}

// Repository defines persistence operations for the ledger.
type Repository interface {
	// WithLedgerLock runs fn inside a transaction holding the serialization
	// lock; the whole append rolls back if fn fails.
	WithLedgerLock(ctx context.Context, fn func(TxRepository) error) error
	// Batch returns up to limit rows with id greater than afterID, ascending.
	Batch(ctx context.Context, afterID int64, limit int) ([]StoredEntry, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithLedgerLock wraps fn in a transaction that first takes the advisory lock.
func (r *PGRepository) WithLedgerLock(ctx context.Context, fn func(TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, ledgerLockKey); err != nil {
			return err
		}
		return fn(&pgTxRepository{tx: tx})
	})
}

// Batch streams rows in id-ascending order for integrity scans.
func (r *PGRepository) Batch(ctx context.Context, afterID int64, limit int) ([]StoredEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, principal_id, action, entity_type, entity_id, old_values, new_values,
		        ip_address, user_agent, created_at, previous_hash, entry_hash
		 FROM audit_logs WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StoredEntry
	for rows.Next() {
		var (
			s           StoredEntry
			principalID pgtype.Int8
			oldRaw      []byte
			newRaw      []byte
			ip          pgtype.Text
			ua          pgtype.Text
			createdAt   pgtype.Timestamptz
		)
		if err := rows.Scan(&s.ID, &principalID, &s.Action, &s.EntityType, &s.EntityID,
			&oldRaw, &newRaw, &ip, &ua, &createdAt, &s.PreviousHash, &s.EntryHash); err != nil {
			return nil, err
		}
		if principalID.Valid {
			id := principalID.Int64
			s.PrincipalID = &id
		}
		if len(oldRaw) > 0 {
			_ = json.Unmarshal(oldRaw, &s.OldValues)
		}
		if len(newRaw) > 0 {
			_ = json.Unmarshal(newRaw, &s.NewValues)
		}
		s.IPAddress = ip.String
		s.UserAgent = ua.String
		s.CreatedAt = createdAt.Time
		entries = append(entries, s)
	}
	return entries, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) LastEntryHash(ctx context.Context) (string, error) {
	var hash string
	err := r.tx.QueryRow(ctx, `SELECT entry_hash FROM audit_logs ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == pgx.ErrNoRows {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (r *pgTxRepository) Insert(ctx context.Context, e Entry, previousHash string) (int64, time.Time, error) {
	var oldRaw, newRaw []byte
	if len(e.OldValues) > 0 {
		oldRaw, _ = json.Marshal(e.OldValues)
	}
	if len(e.NewValues) > 0 {
		newRaw, _ = json.Marshal(e.NewValues)
	}
	var (
		id        int64
		createdAt pgtype.Timestamptz
	)
	err := r.tx.QueryRow(ctx,
		`INSERT INTO audit_logs (principal_id, action, entity_type, entity_id, old_values,
		                         new_values, ip_address, user_agent, created_at, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, '')
		 RETURNING id, created_at`,
		e.PrincipalID, e.Action, e.EntityType, e.EntityID, oldRaw, newRaw,
		nullable(e.IPAddress), nullable(e.UserAgent), previousHash,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return id, createdAt.Time, nil
}

func (r *pgTxRepository) SetEntryHash(ctx context.Context, id int64, hash string) error {
	_, err := r.tx.Exec(ctx, `UPDATE audit_logs SET entry_hash = $1 WHERE id = $2`, hash, id)
	return err
}

func nullable(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

var _ Repository = (*PGRepository)(nil)
