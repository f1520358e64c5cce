package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
)

// Journal commands. Every mutating mailbox transaction appends rows so
// other sessions replay the change on their next poll.
const (
	JournalExists  = "EXISTS"
	JournalExpunge = "EXPUNGE"
	JournalFetch   = "FETCH"
)

type JournalEntry struct {
	ID      int64
	Command string
	UID     imap.UID
	Flags   []imap.Flag
	Ignore  string
	ModSeq  uint64
}

type MailboxJournal struct {
	Entries []JournalEntry
	// NumMessages is the live count at read time, used to reconcile
	// sessions whose watermark predates trimmed journal rows.
	NumMessages uint32
	// ModSeq is the mailbox modify_index at read time; the caller's new
	// watermark once all entries are applied.
	ModSeq uint64
}

// PollJournal returns the journal rows past the caller's watermark in
// commit order, plus the current counters, all from one read-only
// transaction.
func (db *Database) PollJournal(ctx context.Context, mailboxID int64, sinceModSeq uint64) (*MailboxJournal, error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, consts.ErrDBBeginTransactionFailed
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, command, uid, flags, ignore, modseq
		FROM journal
		WHERE mailbox_id = $1 AND modseq > $2
		ORDER BY modseq, id
	`, mailboxID, sinceModSeq)
	if err != nil {
		return nil, err
	}

	j := &MailboxJournal{}
	for rows.Next() {
		var e JournalEntry
		var flagsJSON []byte
		if err := rows.Scan(&e.ID, &e.Command, &e.UID, &flagsJSON, &e.Ignore, &e.ModSeq); err != nil {
			rows.Close()
			return nil, err
		}
		if flagsJSON != nil {
			var ss []string
			if err := json.Unmarshal(flagsJSON, &ss); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode journal flags: %w", err)
			}
			e.Flags = stringsToFlags(ss)
		}
		j.Entries = append(j.Entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE mailbox_id = $1 AND expunged_at IS NULL
	`, mailboxID).Scan(&j.NumMessages)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		SELECT modify_index FROM mailboxes WHERE id = $1
	`, mailboxID).Scan(&j.ModSeq)
	if err != nil {
		return nil, err
	}

	return j, tx.Commit(ctx)
}

type journalRow struct {
	UID    imap.UID
	Flags  []imap.Flag
	ModSeq uint64
}

// insertJournalEntries appends journal rows inside the mutating
// transaction, so notifications commit atomically with the change.
// Rows with ignore set are skipped by the originating session on poll.
func insertJournalEntries(ctx context.Context, tx pgx.Tx, mailboxID int64, command string, ignore string, entries []journalRow) error {
	if len(entries) == 0 {
		return nil
	}

	uids := make([]int64, len(entries))
	flags := make([]*string, len(entries))
	modseqs := make([]int64, len(entries))
	for i, e := range entries {
		uids[i] = int64(e.UID)
		modseqs[i] = int64(e.ModSeq)
		if e.Flags != nil {
			encoded, err := json.Marshal(flagsToStrings(e.Flags))
			if err != nil {
				return consts.ErrSerializationFailed
			}
			s := string(encoded)
			flags[i] = &s
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO journal (mailbox_id, command, uid, flags, ignore, modseq)
		SELECT $1, $2, u.uid, u.flags::jsonb, $3, u.modseq
		FROM unnest($4::bigint[], $5::text[], $6::bigint[]) AS u(uid, flags, modseq)
	`, mailboxID, command, ignore, uids, flags, modseqs)
	if err != nil {
		return fmt.Errorf("failed to append journal entries: %w", err)
	}
	return nil
}

// TrimJournal deletes journal rows older than the retention window and
// returns how many were removed.
func (db *Database) TrimJournal(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM journal WHERE created_at < $1
	`, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to trim journal: %w", err)
	}
	return tag.RowsAffected(), nil
}
