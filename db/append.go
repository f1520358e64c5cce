package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/helpers"
)

type InsertMessageOptions struct {
	UserID    int64
	MailboxID int64

	ContentHash   string
	Size          int64
	Subject       string
	MessageID     string
	InReplyTo     string
	PlaintextBody string
	Headers       []helpers.HeaderField
	Recipients    []helpers.Recipient

	Flags        []imap.Flag
	InternalDate time.Time
	SentDate     time.Time
	// HeaderDate is the Date header when parseable, nil otherwise.
	HeaderDate *time.Time

	BodyStructure *imap.BodyStructure

	// Source records what wrote the message: LMTP, IMAP, IMPORT.
	Source string

	// SessionID marks the journal row so the writing session skips its
	// own notification.
	SessionID string
}

type PendingUpload struct {
	ID          int64
	ContentHash string
	InstanceID  string
	Size        int64
	Attempts    int
}

// InsertMessage stores a message and its content index, allocates the
// next UID and modseq under the mailbox row lock, accounts the size,
// queues the blob upload and journals EXISTS, all in one transaction.
func (db *Database) InsertMessage(ctx context.Context, options *InsertMessageOptions, upload PendingUpload) (imap.UID, error) {
	bodyStructureBlob, err := helpers.SerializeBodyStructureGob(options.BodyStructure)
	if err != nil {
		return 0, consts.ErrSerializationFailed
	}
	headersJSON, err := json.Marshal(options.Headers)
	if err != nil {
		return 0, consts.ErrSerializationFailed
	}
	recipientsJSON, err := json.Marshal(options.Recipients)
	if err != nil {
		return 0, consts.ErrSerializationFailed
	}
	flags := normalizeFlags(options.Flags)
	flagsJSON, err := json.Marshal(flagsToStrings(flags))
	if err != nil {
		return 0, consts.ErrSerializationFailed
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	var uid imap.UID
	var modseq uint64
	err = tx.QueryRow(ctx, `
		UPDATE mailboxes
		SET uid_next = uid_next + 1, modify_index = modify_index + 1
		WHERE id = $1
		RETURNING uid_next - 1, modify_index
	`, options.MailboxID).Scan(&uid, &modseq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, consts.ErrMailboxNotFound
		}
		return 0, fmt.Errorf("failed to allocate UID: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO files (content_hash, size, headers, text_body, text_body_tsv, recipients_json)
		VALUES ($1, $2, $3, $4, to_tsvector('simple', COALESCE($4, '')), $5)
		ON CONFLICT (content_hash) DO NOTHING
	`, options.ContentHash, options.Size, headersJSON,
		helpers.SanitizeUTF8(options.PlaintextBody), recipientsJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to index message content: %w", err)
	}

	seen, flagged, deleted, answered, draft := systemFlagColumns(flags)
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (
			user_id, mailbox_id, uid, modseq, content_hash,
			flags, seen, flagged, deleted, answered, draft,
			internal_date, sent_date, header_date, size,
			subject, message_id, in_reply_to, body_structure, source
		) VALUES (
			@user_id, @mailbox_id, @uid, @modseq, @content_hash,
			@flags, @seen, @flagged, @deleted, @answered, @draft,
			@internal_date, @sent_date, @header_date, @size,
			@subject, @message_id, @in_reply_to, @body_structure, @source
		)
	`, pgx.NamedArgs{
		"user_id":        options.UserID,
		"mailbox_id":     options.MailboxID,
		"uid":            uid,
		"modseq":         modseq,
		"content_hash":   options.ContentHash,
		"flags":          flagsJSON,
		"seen":           seen,
		"flagged":        flagged,
		"deleted":        deleted,
		"answered":       answered,
		"draft":          draft,
		"internal_date":  options.InternalDate,
		"sent_date":      options.SentDate,
		"header_date":    options.HeaderDate,
		"size":           options.Size,
		"subject":        helpers.SanitizeUTF8(options.Subject),
		"message_id":     options.MessageID,
		"in_reply_to":    options.InReplyTo,
		"body_structure": bodyStructureBlob,
		"source":         options.Source,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, consts.ErrDBUniqueViolation
		}
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := addMailboxFlags(ctx, tx, options.MailboxID, flags); err != nil {
		return 0, err
	}

	if err := adjustStorageUsed(ctx, tx, options.UserID, options.Size); err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pending_uploads (content_hash, instance_id, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO NOTHING
	`, upload.ContentHash, upload.InstanceID, upload.Size)
	if err != nil {
		return 0, fmt.Errorf("failed to queue upload: %w", err)
	}

	err = insertJournalEntries(ctx, tx, options.MailboxID, JournalExists, options.SessionID,
		[]journalRow{{UID: uid, ModSeq: modseq}})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, consts.ErrDBCommitTransactionFailed
	}
	return uid, nil
}
