package db

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

// ExpungeMessages expunges the \Deleted messages of a mailbox,
// optionally narrowed to a UID set (UID EXPUNGE). Rows are kept with an
// expunged timestamp so the cleaner can reclaim blobs after the grace
// period. Returns the expunged UIDs in ascending order.
func (db *Database) ExpungeMessages(ctx context.Context, userID int64, mailboxID int64, uidFilter []imap.UID, sessionID string) ([]imap.UID, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT uid, size FROM messages
		WHERE mailbox_id = $1 AND deleted AND expunged_at IS NULL`
	args := []any{mailboxID}
	if uidFilter != nil {
		filter := make([]int64, len(uidFilter))
		for i, u := range uidFilter {
			filter[i] = int64(u)
		}
		query += ` AND uid = ANY($2)`
		args = append(args, filter)
	}
	query += ` ORDER BY uid FOR UPDATE`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var uids []imap.UID
	var totalSize int64
	for rows.Next() {
		var uid imap.UID
		var size int64
		if err := rows.Scan(&uid, &size); err != nil {
			rows.Close()
			return nil, err
		}
		uids = append(uids, uid)
		totalSize += size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(uids) == 0 {
		return nil, tx.Commit(ctx)
	}

	modseqBase, err := allocateModSeqRange(ctx, tx, mailboxID, len(uids))
	if err != nil {
		return nil, err
	}

	uidArr := make([]int64, len(uids))
	modseqArr := make([]int64, len(uids))
	journal := make([]journalRow, len(uids))
	for i, uid := range uids {
		modseq := modseqBase + uint64(i)
		uidArr[i] = int64(uid)
		modseqArr[i] = int64(modseq)
		journal[i] = journalRow{UID: uid, ModSeq: modseq}
	}

	_, err = tx.Exec(ctx, `
		UPDATE messages m
		SET expunged_at = now(), expunged_modseq = u.modseq
		FROM unnest($2::bigint[], $3::bigint[]) AS u(uid, modseq)
		WHERE m.mailbox_id = $1 AND m.uid = u.uid AND m.expunged_at IS NULL
	`, mailboxID, uidArr, modseqArr)
	if err != nil {
		return nil, fmt.Errorf("failed to expunge messages: %w", err)
	}

	if err := adjustStorageUsed(ctx, tx, userID, -totalSize); err != nil {
		return nil, err
	}

	if err := insertJournalEntries(ctx, tx, mailboxID, JournalExpunge, sessionID, journal); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, consts.ErrDBCommitTransactionFailed
	}
	return uids, nil
}
