package db

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
)

// MoveMessages atomically copies the source UIDs into the destination
// mailbox and expunges them from the source, journaling the EXPUNGE and
// EXISTS pair in the same transaction so no observer sees the message
// in both or neither mailbox.
func (db *Database) MoveMessages(ctx context.Context, userID int64, srcMailboxID, destMailboxID int64, uids []imap.UID, sessionID string) (map[imap.UID]imap.UID, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	srcUIDs, _, err := selectLiveUIDs(ctx, tx, srcMailboxID, uids)
	if err != nil {
		return nil, err
	}
	if len(srcUIDs) == 0 {
		return nil, tx.Commit(ctx)
	}
	n := len(srcUIDs)

	destBase, destModSeqBase, err := allocateUIDRange(ctx, tx, destMailboxID, n)
	if err != nil {
		return nil, err
	}

	mapping := make(map[imap.UID]imap.UID, n)
	srcInt := make([]int64, n)
	destUIDs := make([]int64, n)
	destModSeqs := make([]int64, n)
	destJournal := make([]journalRow, n)
	for i, src := range srcUIDs {
		dest := imap.UID(destBase + uint64(i))
		modseq := destModSeqBase + uint64(i)
		mapping[src] = dest
		srcInt[i] = int64(src)
		destUIDs[i] = int64(dest)
		destModSeqs[i] = int64(modseq)
		destJournal[i] = journalRow{UID: dest, ModSeq: modseq}
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
	`, srcMailboxID, destMailboxID, srcInt, destUIDs, destModSeqs)
	if err != nil {
		return nil, fmt.Errorf("failed to move messages: %w", err)
	}

	// Expunge the source copies under fresh source modseqs.
	srcModSeqBase, err := allocateModSeqRange(ctx, tx, srcMailboxID, n)
	if err != nil {
		return nil, err
	}
	srcModSeqs := make([]int64, n)
	srcJournal := make([]journalRow, n)
	for i, src := range srcUIDs {
		modseq := srcModSeqBase + uint64(i)
		srcModSeqs[i] = int64(modseq)
		srcJournal[i] = journalRow{UID: src, ModSeq: modseq}
	}
	_, err = tx.Exec(ctx, `
		UPDATE messages m
		SET expunged_at = now(), expunged_modseq = u.modseq
		FROM unnest($2::bigint[], $3::bigint[]) AS u(uid, modseq)
		WHERE m.mailbox_id = $1 AND m.uid = u.uid AND m.expunged_at IS NULL
	`, srcMailboxID, srcInt, srcModSeqs)
	if err != nil {
		return nil, fmt.Errorf("failed to expunge moved messages: %w", err)
	}

	if err := insertJournalEntries(ctx, tx, srcMailboxID, JournalExpunge, sessionID, srcJournal); err != nil {
		return nil, err
	}
	if err := insertJournalEntries(ctx, tx, destMailboxID, JournalExists, sessionID, destJournal); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, consts.ErrDBCommitTransactionFailed
	}
	return mapping, nil
}

// allocateModSeqRange reserves n modseqs without consuming UIDs.
func allocateModSeqRange(ctx context.Context, tx pgx.Tx, mailboxID int64, n int) (uint64, error) {
	var modifyIndex uint64
	err := tx.QueryRow(ctx, `
		UPDATE mailboxes SET modify_index = modify_index + $2
		WHERE id = $1
		RETURNING modify_index
	`, mailboxID, n).Scan(&modifyIndex)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate modseq range: %w", err)
	}
	return modifyIndex - uint64(n) + 1, nil
}
