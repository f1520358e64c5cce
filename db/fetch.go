package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/helpers"
)

// GetMessagesByUIDs loads the message rows for a FETCH, ascending by
// UID. With changedSince set only rows with a newer modseq are
// returned (CONDSTORE CHANGEDSINCE).
func (db *Database) GetMessagesByUIDs(ctx context.Context, mailboxID int64, uids []imap.UID, changedSince uint64) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	requested := make([]int64, len(uids))
	for i, u := range uids {
		requested[i] = int64(u)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, mailbox_id, uid, modseq, content_hash, uploaded,
		       flags, internal_date, sent_date, size,
		       COALESCE(subject, ''), COALESCE(message_id, ''), COALESCE(in_reply_to, ''),
		       body_structure
		FROM messages
		WHERE mailbox_id = $1 AND uid = ANY($2) AND expunged_at IS NULL AND modseq > $3
		ORDER BY uid
	`, mailboxID, requested, changedSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var flagsJSON []byte
		err := rows.Scan(&m.ID, &m.UserID, &m.MailboxID, &m.UID, &m.ModSeq,
			&m.ContentHash, &m.IsUploaded, &flagsJSON,
			&m.InternalDate, &m.SentDate, &m.Size,
			&m.Subject, &m.MessageID, &m.InReplyTo, &m.BodyStructureBlob)
		if err != nil {
			return nil, err
		}
		var ss []string
		if err := json.Unmarshal(flagsJSON, &ss); err != nil {
			return nil, fmt.Errorf("failed to decode message flags: %w", err)
		}
		m.Flags = stringsToFlags(ss)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetMessageEnvelope assembles an IMAP envelope from the indexed
// columns, without touching the message blob.
func (db *Database) GetMessageEnvelope(ctx context.Context, messageID int64) (*imap.Envelope, error) {
	var envelope imap.Envelope
	var inReplyTo string
	var recipientsJSON []byte

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(m.header_date, m.internal_date), COALESCE(m.subject, ''), COALESCE(m.message_id, ''),
		       COALESCE(m.in_reply_to, ''), f.recipients_json
		FROM messages m
		JOIN files f ON f.content_hash = m.content_hash
		WHERE m.id = $1
	`, messageID).Scan(&envelope.Date, &envelope.Subject, &envelope.MessageID,
		&inReplyTo, &recipientsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrMessageNotFound
		}
		return nil, err
	}
	envelope.InReplyTo = strings.Fields(inReplyTo)

	var recipients []helpers.Recipient
	if err := json.Unmarshal(recipientsJSON, &recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}

	for _, recipient := range recipients {
		parts := strings.SplitN(recipient.EmailAddress, "@", 2)
		if len(parts) != 2 {
			continue
		}
		address := imap.Address{
			Name:    recipient.Name,
			Mailbox: parts[0],
			Host:    parts[1],
		}
		switch recipient.AddressType {
		case "from":
			envelope.From = append(envelope.From, address)
		case "to":
			envelope.To = append(envelope.To, address)
		case "cc":
			envelope.Cc = append(envelope.Cc, address)
		case "bcc":
			envelope.Bcc = append(envelope.Bcc, address)
		case "reply-to":
			envelope.ReplyTo = append(envelope.ReplyTo, address)
		}
	}
	if envelope.Sender == nil {
		envelope.Sender = envelope.From
	}

	return &envelope, nil
}

// MarkMessagesSeen adds \Seen for a FETCH of a body section without
// the PEEK modifier. The returned updates carry the new flag lists and
// modseqs so the FETCH responses can render the post-store state.
func (db *Database) MarkMessagesSeen(ctx context.Context, mailboxID int64, uids []imap.UID, sessionID string) ([]FlagUpdate, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	updated, _, err := db.UpdateMessageFlags(ctx, mailboxID, uids, imap.StoreFlagsAdd, []imap.Flag{imap.FlagSeen}, nil, sessionID)
	return updated, err
}
