package db

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
)

// CopyMessages copies the given source UIDs into the destination
// mailbox and returns the source-to-destination UID mapping for the
// COPYUID response. Missing source UIDs are skipped, not errors.
func (db *Database) CopyMessages(ctx context.Context, userID int64, srcMailboxID, destMailboxID int64, uids []imap.UID, sessionID string) (map[imap.UID]imap.UID, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	srcUIDs, totalSize, err := selectLiveUIDs(ctx, tx, srcMailboxID, uids)
	if err != nil {
		return nil, err
	}
	if len(srcUIDs) == 0 {
		return nil, tx.Commit(ctx)
	}

	destBase, modseqBase, err := allocateUIDRange(ctx, tx, destMailboxID, len(srcUIDs))
	if err != nil {
		return nil, err
	}

	mapping := make(map[imap.UID]imap.UID, len(srcUIDs))
	destUIDs := make([]int64, len(srcUIDs))
	modseqs := make([]int64, len(srcUIDs))
	srcInt := make([]int64, len(srcUIDs))
	journal := make([]journalRow, len(srcUIDs))
	for i, src := range srcUIDs {
		dest := imap.UID(destBase + uint64(i))
		modseq := modseqBase + uint64(i)
		mapping[src] = dest
		srcInt[i] = int64(src)
		destUIDs[i] = int64(dest)
		modseqs[i] = int64(modseq)
		journal[i] = journalRow{UID: dest, ModSeq: modseq}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (
			user_id, mailbox_id, uid, modseq, content_hash, uploaded,
			flags, seen, flagged, deleted, answered, draft,
			internal_date, sent_date, header_date, size,
			subject, message_id, in_reply_to, body_structure, source
		)
		SELECT m.user_id, $2, u.dest_uid, u.modseq, m.content_hash, m.uploaded,
		       m.flags, m.seen, m.flagged, m.deleted, m.answered, m.draft,
		       m.internal_date, m.sent_date, m.header_date, m.size,
		       m.subject, m.message_id, m.in_reply_to, m.body_structure, m.source
		FROM unnest($3::bigint[], $4::bigint[], $5::bigint[]) AS u(src_uid, dest_uid, modseq)
		JOIN messages m ON m.mailbox_id = $1 AND m.uid = u.src_uid AND m.expunged_at IS NULL
	`, srcMailboxID, destMailboxID, srcInt, destUIDs, modseqs)
	if err != nil {
		return nil, fmt.Errorf("failed to copy messages: %w", err)
	}

	if err := adjustStorageUsed(ctx, tx, userID, totalSize); err != nil {
		return nil, err
	}

	if err := insertJournalEntries(ctx, tx, destMailboxID, JournalExists, sessionID, journal); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, consts.ErrDBCommitTransactionFailed
	}
	return mapping, nil
}

// selectLiveUIDs narrows a requested UID list to the ones actually
// present, ascending, and sums their sizes.
func selectLiveUIDs(ctx context.Context, tx pgx.Tx, mailboxID int64, uids []imap.UID) ([]imap.UID, int64, error) {
	requested := make([]int64, len(uids))
	for i, u := range uids {
		requested[i] = int64(u)
	}

	rows, err := tx.Query(ctx, `
		SELECT uid, size FROM messages
		WHERE mailbox_id = $1 AND uid = ANY($2) AND expunged_at IS NULL
		ORDER BY uid
	`, mailboxID, requested)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var live []imap.UID
	var totalSize int64
	for rows.Next() {
		var uid imap.UID
		var size int64
		if err := rows.Scan(&uid, &size); err != nil {
			return nil, 0, err
		}
		live = append(live, uid)
		totalSize += size
	}
	return live, totalSize, rows.Err()
}

// allocateUIDRange reserves n consecutive UIDs and modseqs on the
// mailbox row, returning the first of each. The row lock taken by the
// UPDATE serializes concurrent writers.
func allocateUIDRange(ctx context.Context, tx pgx.Tx, mailboxID int64, n int) (uint64, uint64, error) {
	var uidNext, modifyIndex uint64
	err := tx.QueryRow(ctx, `
		UPDATE mailboxes
		SET uid_next = uid_next + $2, modify_index = modify_index + $2
		WHERE id = $1
		RETURNING uid_next, modify_index
	`, mailboxID, n).Scan(&uidNext, &modifyIndex)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, consts.ErrMailboxNotFound
		}
		return 0, 0, fmt.Errorf("failed to allocate UID range: %w", err)
	}
	return uidNext - uint64(n), modifyIndex - uint64(n) + 1, nil
}
