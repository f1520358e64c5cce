package db

import (
	"context"
	"fmt"
	"time"

	"github.com/driftmail/keel/consts"
)

// AcquireAndLeasePendingUploads claims a batch of pending uploads for
// this instance. Claimed rows become invisible to other workers until
// the lease expires, so a crashed instance's uploads get retried
// elsewhere. SKIP LOCKED keeps concurrent workers from contending.
func (db *Database) AcquireAndLeasePendingUploads(ctx context.Context, instanceID string, limit int) ([]PendingUpload, error) {
	now := time.Now()
	rows, err := db.Pool.Query(ctx, `
		UPDATE pending_uploads
		SET leased_by = $1, leased_until = $2
		WHERE id IN (
			SELECT id FROM pending_uploads
			WHERE attempts < $3
			  AND (leased_until IS NULL OR leased_until < $4)
			  AND (last_attempt IS NULL OR last_attempt < $5)
			ORDER BY created_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, content_hash, instance_id, size, attempts
	`, instanceID, now.Add(consts.UPLOAD_LEASE_DURATION), consts.MAX_UPLOAD_ATTEMPTS,
		now, now.Add(-consts.PENDING_UPLOAD_RETRY_INTERVAL), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []PendingUpload
	for rows.Next() {
		var u PendingUpload
		if err := rows.Scan(&u.ID, &u.ContentHash, &u.InstanceID, &u.Size, &u.Attempts); err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// MarkUploadAttempt records a failed attempt and releases the lease so
// the row becomes retryable after the backoff window.
func (db *Database) MarkUploadAttempt(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE pending_uploads
		SET attempts = attempts + 1, last_attempt = now(),
		    leased_by = NULL, leased_until = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to record upload attempt: %w", err)
	}
	return nil
}

// CompleteS3Upload flips the uploaded flag on every message sharing the
// blob and drops the queue row in one transaction.
func (db *Database) CompleteS3Upload(ctx context.Context, contentHash string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE messages SET uploaded = TRUE WHERE content_hash = $1
	`, contentHash); err != nil {
		return fmt.Errorf("failed to mark messages uploaded: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM pending_uploads WHERE content_hash = $1
	`, contentHash); err != nil {
		return fmt.Errorf("failed to dequeue upload: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return nil
}

func (db *Database) IsContentHashUploaded(ctx context.Context, contentHash string) (bool, error) {
	var uploaded bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages WHERE content_hash = $1 AND uploaded
		)
	`, contentHash).Scan(&uploaded)
	return uploaded, err
}
