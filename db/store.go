package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

// storeChunkSize bounds the rows touched per transaction so a STORE
// over a huge range does not hold the mailbox lock for its full length.
const storeChunkSize = 150

type FlagUpdate struct {
	UID    imap.UID
	Flags  []imap.Flag
	ModSeq uint64
}

// UpdateMessageFlags applies a STORE operation to the given UIDs in
// chunks. With unchangedSince set, rows whose modseq is newer are
// left untouched and returned in skipped for the MODIFIED response.
func (db *Database) UpdateMessageFlags(ctx context.Context, mailboxID int64, uids []imap.UID, op imap.StoreFlagsOp, change []imap.Flag, unchangedSince *uint64, sessionID string) ([]FlagUpdate, []imap.UID, error) {
	var updated []FlagUpdate
	var skipped []imap.UID

	for start := 0; start < len(uids); start += storeChunkSize {
		end := min(start+storeChunkSize, len(uids))
		chunkUpdated, chunkSkipped, err := db.updateFlagsChunk(ctx, mailboxID, uids[start:end], op, change, unchangedSince, sessionID)
		if err != nil {
			return updated, skipped, err
		}
		updated = append(updated, chunkUpdated...)
		skipped = append(skipped, chunkSkipped...)
	}
	return updated, skipped, nil
}

func (db *Database) updateFlagsChunk(ctx context.Context, mailboxID int64, uids []imap.UID, op imap.StoreFlagsOp, change []imap.Flag, unchangedSince *uint64, sessionID string) ([]FlagUpdate, []imap.UID, error) {
	requested := make([]int64, len(uids))
	for i, u := range uids {
		requested[i] = int64(u)
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT uid, flags, modseq FROM messages
		WHERE mailbox_id = $1 AND uid = ANY($2) AND expunged_at IS NULL
		ORDER BY uid
		FOR UPDATE
	`, mailboxID, requested)
	if err != nil {
		return nil, nil, err
	}

	type current struct {
		uid   imap.UID
		flags []imap.Flag
	}
	var targets []current
	var skipped []imap.UID
	for rows.Next() {
		var uid imap.UID
		var flagsJSON []byte
		var modseq uint64
		if err := rows.Scan(&uid, &flagsJSON, &modseq); err != nil {
			rows.Close()
			return nil, nil, err
		}
		if unchangedSince != nil && modseq > *unchangedSince {
			skipped = append(skipped, uid)
			continue
		}
		var ss []string
		if err := json.Unmarshal(flagsJSON, &ss); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to decode message flags: %w", err)
		}
		targets = append(targets, current{uid: uid, flags: stringsToFlags(ss)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(targets) == 0 {
		return nil, skipped, tx.Commit(ctx)
	}

	modseqBase, err := allocateModSeqRange(ctx, tx, mailboxID, len(targets))
	if err != nil {
		return nil, nil, err
	}

	n := len(targets)
	uidArr := make([]int64, n)
	flagsArr := make([]string, n)
	seenArr := make([]bool, n)
	flaggedArr := make([]bool, n)
	deletedArr := make([]bool, n)
	answeredArr := make([]bool, n)
	draftArr := make([]bool, n)
	modseqArr := make([]int64, n)
	updated := make([]FlagUpdate, n)
	journal := make([]journalRow, n)

	for i, t := range targets {
		newFlags := applyFlagOp(t.flags, op, change)
		encoded, err := json.Marshal(flagsToStrings(newFlags))
		if err != nil {
			return nil, nil, consts.ErrSerializationFailed
		}
		modseq := modseqBase + uint64(i)

		uidArr[i] = int64(t.uid)
		flagsArr[i] = string(encoded)
		seenArr[i], flaggedArr[i], deletedArr[i], answeredArr[i], draftArr[i] = systemFlagColumns(newFlags)
		modseqArr[i] = int64(modseq)
		updated[i] = FlagUpdate{UID: t.uid, Flags: newFlags, ModSeq: modseq}
		journal[i] = journalRow{UID: t.uid, Flags: newFlags, ModSeq: modseq}
	}

	_, err = tx.Exec(ctx, `
		UPDATE messages m
		SET flags = u.flags::jsonb,
		    seen = u.seen, flagged = u.flagged, deleted = u.deleted,
		    answered = u.answered, draft = u.draft,
		    modseq = u.modseq
		FROM unnest(
			$2::bigint[], $3::text[], $4::boolean[], $5::boolean[],
			$6::boolean[], $7::boolean[], $8::boolean[], $9::bigint[]
		) AS u(uid, flags, seen, flagged, deleted, answered, draft, modseq)
		WHERE m.mailbox_id = $1 AND m.uid = u.uid
	`, mailboxID, uidArr, flagsArr, seenArr, flaggedArr, deletedArr, answeredArr, draftArr, modseqArr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update flags: %w", err)
	}

	if op != imap.StoreFlagsDel {
		if err := addMailboxFlags(ctx, tx, mailboxID, change); err != nil {
			return nil, nil, err
		}
	}

	if err := insertJournalEntries(ctx, tx, mailboxID, JournalFetch, sessionID, journal); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, consts.ErrDBCommitTransactionFailed
	}
	return updated, skipped, nil
}
