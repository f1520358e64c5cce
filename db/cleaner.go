package db

import (
	"context"
	"fmt"
	"time"

	"github.com/driftmail/keel/consts"
)

// Advisory lock key; only one instance sweeps at a time.
const CLEANUP_LOCK_KEY = 925955823

func (db *Database) AcquireCleanupLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := db.Pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, CLEANUP_LOCK_KEY).Scan(&acquired)
	return acquired, err
}

func (db *Database) ReleaseCleanupLock(ctx context.Context) {
	db.Pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, CLEANUP_LOCK_KEY)
}

// ListBlobsToSweep returns content hashes referenced only by messages
// that were expunged before the cutoff. These blobs can leave S3.
func (db *Database) ListBlobsToSweep(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT content_hash FROM messages
		GROUP BY content_hash
		HAVING bool_and(expunged_at IS NOT NULL AND expunged_at < $1)
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// SweepBlob deletes the message rows and content index for a blob,
// re-checking inside the transaction that no live reference appeared
// since the candidate list was built.
func (db *Database) SweepBlob(ctx context.Context, contentHash string, cutoff time.Time) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	var live bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE content_hash = $1
			  AND (expunged_at IS NULL OR expunged_at >= $2)
		)
	`, contentHash, cutoff).Scan(&live)
	if err != nil {
		return false, err
	}
	if live {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE content_hash = $1`, contentHash); err != nil {
		return false, fmt.Errorf("failed to delete expunged messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM files WHERE content_hash = $1`, contentHash); err != nil {
		return false, fmt.Errorf("failed to delete content index: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pending_uploads WHERE content_hash = $1`, contentHash); err != nil {
		return false, fmt.Errorf("failed to delete stale upload queue row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, consts.ErrDBCommitTransactionFailed
	}
	return true, nil
}
