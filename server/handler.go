package server

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-message/mail"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/db"
	"github.com/driftmail/keel/helpers"
	"github.com/driftmail/keel/metrics"
	"github.com/driftmail/keel/server/uploader"
)

// MessageHandler is the shared write path behind IMAP APPEND and LMTP
// delivery: parse once, index, stage the blob locally and queue its
// upload.
type MessageHandler struct {
	DB       *db.Database
	Uploader *uploader.UploadWorker

	// MaxMessageSize rejects oversized messages before parsing.
	// Zero disables the cap.
	MaxMessageSize int64

	// DefaultQuota applies to users without an explicit quota.
	// Zero means unlimited.
	DefaultQuota int64
}

type DeliveryOptions struct {
	UserID    int64
	MailboxID int64

	Raw          []byte
	Flags        []imap.Flag
	InternalDate time.Time

	// Source records what wrote the message: LMTP or IMAP.
	Source string

	// SessionID lets the writing session skip its own journal entry.
	SessionID string
}

// Deliver stores a message and returns its UID in the target mailbox.
func (h *MessageHandler) Deliver(ctx context.Context, options *DeliveryOptions) (imap.UID, error) {
	size := int64(len(options.Raw))
	if h.MaxMessageSize > 0 && size > h.MaxMessageSize {
		return 0, consts.ErrMessageTooLarge
	}

	if err := h.checkQuota(ctx, options.UserID, size); err != nil {
		return 0, err
	}

	entity, err := ParseMessage(bytes.NewReader(options.Raw))
	if err != nil {
		return 0, consts.ErrMalformedMessage
	}

	contentHash := helpers.HashContent(options.Raw)

	mailHeader := mail.Header{Header: entity.Header}
	subject, _ := mailHeader.Subject()
	messageID, _ := mailHeader.MessageID()
	var inReplyTo string
	if refs, err := mailHeader.MsgIDList("In-Reply-To"); err == nil && len(refs) > 0 {
		inReplyTo = refs[0]
	}

	internalDate := options.InternalDate
	if internalDate.IsZero() {
		internalDate = time.Now()
	}
	var headerDate *time.Time
	sentDate := internalDate
	if d, err := mailHeader.Date(); err == nil && !d.IsZero() {
		headerDate = &d
		sentDate = d
	}

	headers := helpers.NormalizeHeaders(entity.Header)
	recipients := helpers.ExtractRecipients(entity.Header)

	bodyStructure := imapserver.ExtractBodyStructure(bytes.NewReader(options.Raw))

	var plaintext string
	if body, err := helpers.ExtractPlaintextBody(entity); err == nil && body != nil {
		plaintext = *body
	}

	localPath, err := h.Uploader.StoreLocally(contentHash, options.Raw)
	if err != nil {
		return 0, fmt.Errorf("failed to stage message locally: %w", err)
	}

	uid, err := h.DB.InsertMessage(ctx, &db.InsertMessageOptions{
		UserID:        options.UserID,
		MailboxID:     options.MailboxID,
		ContentHash:   contentHash,
		Size:          size,
		Subject:       subject,
		MessageID:     messageID,
		InReplyTo:     inReplyTo,
		PlaintextBody: plaintext,
		Headers:       headers,
		Recipients:    recipients,
		Flags:         options.Flags,
		InternalDate:  internalDate,
		SentDate:      sentDate,
		HeaderDate:    headerDate,
		BodyStructure: &bodyStructure,
		Source:        options.Source,
		SessionID:     options.SessionID,
	}, db.PendingUpload{
		ContentHash: contentHash,
		InstanceID:  h.Uploader.InstanceID(),
		Size:        size,
	})
	if err != nil {
		os.Remove(*localPath)
		return 0, err
	}

	h.Uploader.NotifyUploadQueued()
	metrics.MessagesDeliveredTotal.WithLabelValues(options.Source).Inc()
	return uid, nil
}

// Copy duplicates messages between mailboxes of one user and returns
// the UID mapping for COPYUID.
func (h *MessageHandler) Copy(ctx context.Context, userID int64, srcMailboxID, destMailboxID int64, uids []imap.UID, sessionID string) (map[imap.UID]imap.UID, error) {
	return h.DB.CopyMessages(ctx, userID, srcMailboxID, destMailboxID, uids, sessionID)
}

// Move relocates messages atomically and returns the UID mapping.
func (h *MessageHandler) Move(ctx context.Context, userID int64, srcMailboxID, destMailboxID int64, uids []imap.UID, sessionID string) (map[imap.UID]imap.UID, error) {
	return h.DB.MoveMessages(ctx, userID, srcMailboxID, destMailboxID, uids, sessionID)
}

func (h *MessageHandler) checkQuota(ctx context.Context, userID int64, incoming int64) error {
	quota, err := h.DB.GetQuota(ctx, userID)
	if err != nil {
		return err
	}
	limit := h.DefaultQuota
	if quota != nil {
		limit = *quota
	}
	if limit <= 0 {
		return nil
	}
	used, err := h.DB.GetStorageUsed(ctx, userID)
	if err != nil {
		return err
	}
	if used+incoming > limit {
		return consts.ErrOverQuota
	}
	return nil
}
