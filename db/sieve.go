package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
)

type SieveScript struct {
	ID     int64
	UserID int64
	Name   string
	Script string
	Active bool
}

// GetActiveScript returns the user's active sieve script, or
// ErrDBNotFound when none is active.
func (db *Database) GetActiveScript(ctx context.Context, userID int64) (*SieveScript, error) {
	var s SieveScript
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, name, script, active
		FROM sieve_scripts
		WHERE user_id = $1 AND active
	`, userID).Scan(&s.ID, &s.UserID, &s.Name, &s.Script, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrDBNotFound
		}
		return nil, err
	}
	return &s, nil
}

// PutScript creates or replaces a named script.
func (db *Database) PutScript(ctx context.Context, userID int64, name, script string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sieve_scripts (user_id, name, script)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name)
		DO UPDATE SET script = EXCLUDED.script, updated_at = now()
	`, userID, name, script)
	if err != nil {
		return fmt.Errorf("failed to store script: %w", err)
	}
	return nil
}

// SetActiveScript activates one script and deactivates the rest.
func (db *Database) SetActiveScript(ctx context.Context, userID int64, name string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE sieve_scripts SET active = FALSE WHERE user_id = $1
	`, userID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE sieve_scripts SET active = TRUE
		WHERE user_id = $1 AND name = $2
	`, userID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return nil
}

// HasRecentVacationResponse reports whether the sender already got an
// auto-reply inside the :days window.
func (db *Database) HasRecentVacationResponse(ctx context.Context, userID int64, senderAddress string, window time.Duration) (bool, error) {
	var recent bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM vacation_responses
			WHERE user_id = $1 AND LOWER(sender_address) = LOWER($2)
			  AND responded_at > $3
		)
	`, userID, senderAddress, time.Now().Add(-window)).Scan(&recent)
	return recent, err
}

// RecordVacationResponse remembers that the sender was answered now.
func (db *Database) RecordVacationResponse(ctx context.Context, userID int64, senderAddress string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO vacation_responses (user_id, sender_address, responded_at)
		VALUES ($1, LOWER($2), now())
		ON CONFLICT (user_id, sender_address)
		DO UPDATE SET responded_at = now()
	`, userID, senderAddress)
	if err != nil {
		return fmt.Errorf("failed to record vacation response: %w", err)
	}
	return nil
}
