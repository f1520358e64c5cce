package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
)

type DBMailbox struct {
	ID          int64
	UserID      int64
	Name        string
	UIDValidity uint32
	Subscribed  bool
	SpecialUse  string
	HasChildren bool
	// Flags are the keywords ever used in this mailbox, advertised in
	// the FLAGS untagged response.
	Flags []string
}

const mailboxColumns = `
	m.id, m.user_id, m.name, m.uid_validity, m.subscribed,
	COALESCE(m.special_use, ''), m.flags,
	EXISTS (
		SELECT 1 FROM mailboxes c
		WHERE c.user_id = m.user_id AND LOWER(c.name) LIKE LOWER(m.name) || '/%'
	) AS has_children`

func scanMailbox(row pgx.Row) (*DBMailbox, error) {
	var m DBMailbox
	var flagsJSON []byte
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.UIDValidity, &m.Subscribed,
		&m.SpecialUse, &flagsJSON, &m.HasChildren)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flagsJSON, &m.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode mailbox flags: %w", err)
	}
	return &m, nil
}

func (db *Database) GetMailboxByName(ctx context.Context, userID int64, name string) (*DBMailbox, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes m
		WHERE m.user_id = $1 AND LOWER(m.name) = LOWER($2)
	`, userID, name)
	m, err := scanMailbox(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrMailboxNotFound
		}
		return nil, err
	}
	return m, nil
}

func (db *Database) GetMailboxes(ctx context.Context, userID int64, subscribedOnly bool) ([]*DBMailbox, error) {
	query := `SELECT ` + mailboxColumns + ` FROM mailboxes m WHERE m.user_id = $1`
	if subscribedOnly {
		query += ` AND m.subscribed`
	}
	query += ` ORDER BY m.name`

	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mailboxes []*DBMailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, rows.Err()
}

func (db *Database) CreateMailbox(ctx context.Context, userID int64, name string, specialUse string) error {
	uidValidity := uint32(time.Now().Unix())
	var specialUseVal *string
	if specialUse != "" {
		specialUseVal = &specialUse
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO mailboxes (user_id, name, uid_validity, special_use)
		VALUES ($1, $2, $3, $4)
	`, userID, name, uidValidity, specialUseVal)
	if err != nil {
		if isUniqueViolation(err) {
			return consts.ErrMailboxAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return consts.ErrUserNotFound
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	return nil
}

// CreateDefaultMailboxes ensures the default folder set exists. Called
// on every successful login, so it tolerates already-present folders.
func (db *Database) CreateDefaultMailboxes(ctx context.Context, userID int64) error {
	for _, name := range consts.DefaultMailboxes {
		err := db.CreateMailbox(ctx, userID, name, consts.DefaultMailboxSpecialUse[name])
		if err != nil && !errors.Is(err, consts.ErrMailboxAlreadyExists) {
			return fmt.Errorf("failed to create default mailbox %s: %w", name, err)
		}
	}
	return nil
}

// DeleteMailbox removes a mailbox and its messages. Default folders
// refuse deletion. Child mailboxes survive; the IMAP hierarchy is
// purely name based.
func (db *Database) DeleteMailbox(ctx context.Context, userID int64, name string) error {
	for _, reserved := range consts.DefaultMailboxes {
		if strings.EqualFold(name, reserved) {
			return consts.ErrMailboxCannotDelete
		}
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	var mailboxID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM mailboxes WHERE user_id = $1 AND LOWER(name) = LOWER($2) FOR UPDATE
	`, userID, name).Scan(&mailboxID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return consts.ErrMailboxNotFound
		}
		return err
	}

	var reclaimed int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(size), 0) FROM messages
		WHERE mailbox_id = $1 AND expunged_at IS NULL
	`, mailboxID).Scan(&reclaimed)
	if err != nil {
		return err
	}
	if err := adjustStorageUsed(ctx, tx, userID, -reclaimed); err != nil {
		return err
	}

	// Journal and messages cascade with the mailbox row.
	if _, err := tx.Exec(ctx, `DELETE FROM mailboxes WHERE id = $1`, mailboxID); err != nil {
		return fmt.Errorf("failed to delete mailbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return nil
}

// RenameMailbox renames a mailbox and rewrites the names of its
// descendants in the same transaction. UIDVALIDITY is preserved.
func (db *Database) RenameMailbox(ctx context.Context, userID int64, oldName, newName string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE mailboxes SET name = $3
		WHERE user_id = $1 AND LOWER(name) = LOWER($2)
	`, userID, oldName, newName)
	if err != nil {
		if isUniqueViolation(err) {
			return consts.ErrMailboxAlreadyExists
		}
		return fmt.Errorf("failed to rename mailbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrMailboxNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE mailboxes SET name = $3 || SUBSTRING(name FROM LENGTH($2) + 1)
		WHERE user_id = $1 AND LOWER(name) LIKE LOWER($2) || '/%'
	`, userID, oldName, newName)
	if err != nil {
		if isUniqueViolation(err) {
			return consts.ErrMailboxAlreadyExists
		}
		return fmt.Errorf("failed to rename child mailboxes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return consts.ErrDBCommitTransactionFailed
	}
	return nil
}

// SetMailboxSubscribed flips the subscription flag. Default folders
// stay subscribed; the update is silently skipped for them.
func (db *Database) SetMailboxSubscribed(ctx context.Context, userID int64, name string, subscribed bool) error {
	if !subscribed {
		for _, reserved := range consts.DefaultMailboxes {
			if strings.EqualFold(name, reserved) {
				return nil
			}
		}
	}
	_, err := db.Pool.Exec(ctx, `
		UPDATE mailboxes SET subscribed = $3
		WHERE user_id = $1 AND LOWER(name) = LOWER($2)
	`, userID, name, subscribed)
	return err
}

type MailboxSummary struct {
	NumMessages   uint32
	NumUnseen     uint32
	UIDNext       imap.UID
	HighestModSeq uint64
	TotalSize     int64
}

// GetMailboxSummary reads the counters served by SELECT and STATUS in a
// single read-only transaction so they are mutually consistent.
func (db *Database) GetMailboxSummary(ctx context.Context, mailboxID int64) (*MailboxSummary, error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	var s MailboxSummary
	err = tx.QueryRow(ctx, `
		SELECT uid_next, modify_index FROM mailboxes WHERE id = $1
	`, mailboxID).Scan(&s.UIDNext, &s.HighestModSeq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrMailboxNotFound
		}
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT seen),
		       COALESCE(SUM(size), 0)
		FROM messages
		WHERE mailbox_id = $1 AND expunged_at IS NULL
	`, mailboxID).Scan(&s.NumMessages, &s.NumUnseen, &s.TotalSize)
	if err != nil {
		return nil, err
	}

	return &s, tx.Commit(ctx)
}

// GetMailboxUIDs returns the live UIDs in ascending order; SELECT seeds
// the session's sequence-number view from this.
func (db *Database) GetMailboxUIDs(ctx context.Context, mailboxID int64) ([]imap.UID, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT uid FROM messages
		WHERE mailbox_id = $1 AND expunged_at IS NULL
		ORDER BY uid
	`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []imap.UID
	for rows.Next() {
		var uid imap.UID
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// addMailboxFlags records newly seen keywords on the mailbox, capped at
// FlagsMaxKeywordLength characters each. System flags are not stored.
func addMailboxFlags(ctx context.Context, tx pgx.Tx, mailboxID int64, flags []imap.Flag) error {
	var keywords []string
	for _, f := range flags {
		s := string(f)
		if strings.HasPrefix(s, "\\") || len(s) > FlagsMaxKeywordLength {
			continue
		}
		keywords = append(keywords, s)
	}
	if len(keywords) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE mailboxes SET flags = (
			SELECT jsonb_agg(DISTINCT f ORDER BY f)
			FROM (
				SELECT jsonb_array_elements_text(flags) AS f FROM mailboxes WHERE id = $1
				UNION
				SELECT unnest($2::text[])
			) all_flags
		)
		WHERE id = $1
	`, mailboxID, keywords)
	if err != nil {
		return fmt.Errorf("failed to record mailbox keywords: %w", err)
	}
	return nil
}
