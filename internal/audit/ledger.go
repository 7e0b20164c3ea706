package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

const (
	verifyBatchSize = 500

	// failureThreshold is the number of consecutive append failures after
	// which the ledger is considered systemically broken rather than
	// transiently unlucky.
	failureThreshold = 5
)

// Ledger coordinates appends and integrity scans.
type Ledger struct {
	repo     Repository
	logger   *slog.Logger
	failures atomic.Int64
}

// NewLedger constructs a Ledger.
func NewLedger(repo Repository, logger *slog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Append writes one entry to the chain and returns the stored row, or nil if
// the append failed. Failures are swallowed so the business action that
// triggered the entry never fails because logging it failed — but they are
// counted, and crossing the threshold escalates the log severity so operators
// can tell a broken ledger from a single lost insert.
func (l *Ledger) Append(ctx context.Context, e Entry) *StoredEntry {
	var stored *StoredEntry
	err := l.repo.WithLedgerLock(ctx, func(tx TxRepository) error {
		previousHash, err := tx.LastEntryHash(ctx)
		if err != nil {
			return fmt.Errorf("read last hash: %w", err)
		}
		id, createdAt, err := tx.Insert(ctx, e, previousHash)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		hash := computeHash(id, e, createdAt, previousHash)
		if err := tx.SetEntryHash(ctx, id, hash); err != nil {
			return fmt.Errorf("set entry hash: %w", err)
		}
		stored = &StoredEntry{
			ID:           id,
			PrincipalID:  e.PrincipalID,
			Action:       e.Action,
			EntityType:   e.EntityType,
			EntityID:     e.EntityID,
			OldValues:    e.OldValues,
			NewValues:    e.NewValues,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			CreatedAt:    createdAt,
			PreviousHash: previousHash,
			EntryHash:    hash,
		}
		return nil
	})
	if err != nil {
		count := l.failures.Add(1)
		if count >= failureThreshold {
			l.logger.Error("audit ledger failure",
				slog.Int64("consecutive_failures", count),
				slog.String("action", e.Action),
				slog.Any("error", err))
		} else {
			l.logger.Warn("audit append failed",
				slog.Int64("consecutive_failures", count),
				slog.String("action", e.Action),
				slog.Any("error", err))
		}
		return nil
	}
	l.failures.Store(0)
	return stored
}

// VerifyIntegrity rescans the whole chain, recomputing every hash and
// checking the linkage between consecutive entries. It records all
// discrepancies it finds instead of aborting at the first.
//
// Linkage accepts either the stored or the recomputed hash of the prior
// entry, so a single tampered entry is reported once as tampered instead of
// also casting a spurious chain break on its untouched successor. A deleted
// or reordered row matches neither and is reported as a chain break.
func (l *Ledger) VerifyIntegrity(ctx context.Context) (Report, error) {
	report := Report{Valid: true}
	prevStored := GenesisHash
	prevRecomputed := GenesisHash
	afterID := int64(0)

	for {
		batch, err := l.repo.Batch(ctx, afterID, verifyBatchSize)
		if err != nil {
			return Report{}, fmt.Errorf("audit: scan batch after %d: %w", afterID, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, s := range batch {
			report.EntriesChecked++
			recomputed := computeHash(s.ID, entryOf(s), s.CreatedAt, s.PreviousHash)
			if recomputed != s.EntryHash {
				report.Valid = false
				report.Errors = append(report.Errors,
					fmt.Sprintf("entry %d: entry hash mismatch (tampered)", s.ID))
			}
			if s.PreviousHash != prevStored && s.PreviousHash != prevRecomputed {
				report.Valid = false
				report.Errors = append(report.Errors,
					fmt.Sprintf("entry %d: previous hash mismatch (chain break)", s.ID))
			}
			prevStored = s.EntryHash
			prevRecomputed = recomputed
		}
		afterID = batch[len(batch)-1].ID
		if len(batch) < verifyBatchSize {
			break
		}
	}
	return report, nil
}
