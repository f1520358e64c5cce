package imap

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/server"
)

func (s *IMAPSession) Append(mailboxName string, r imap.LiteralReader, options *imap.AppendOptions) (*imap.AppendData, error) {
	mailbox, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), mailboxName)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeTryCreate,
				Text: "Mailbox does not exist",
			}
		}
		return nil, s.internalError("[APPEND] failed to fetch mailbox %s: %v", mailboxName, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, s.internalError("[APPEND] failed to read message literal: %v", err)
	}

	var flags []imap.Flag
	internalDate := time.Now()
	if options != nil {
		flags = options.Flags
		if !options.Time.IsZero() {
			internalDate = options.Time
		}
	}

	uid, err := s.server.handler.Deliver(s.ctx, &server.DeliveryOptions{
		UserID:       s.UserID(),
		MailboxID:    mailbox.ID,
		Raw:          buf.Bytes(),
		Flags:        flags,
		InternalDate: internalDate,
		Source:       "IMAP",
		SessionID:    s.Id,
	})
	if err != nil {
		switch {
		case errors.Is(err, consts.ErrMessageTooLarge):
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCode("TOOBIG"),
				Text: "Message exceeds maximum size",
			}
		case errors.Is(err, consts.ErrOverQuota):
			text := "Quota exceeded"
			if status, qerr := s.quota(); qerr == nil {
				text = "Quota exceeded (" + status.String() + ")"
			}
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCode("OVERQUOTA"),
				Text: text,
			}
		case errors.Is(err, consts.ErrMalformedMessage):
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: "Message has malformed structure",
			}
		case errors.Is(err, consts.ErrDBUniqueViolation):
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAlreadyExists,
				Text: "Message already exists",
			}
		}
		return nil, s.internalError("[APPEND] failed to store message: %v", err)
	}

	// Appending into the selected mailbox updates the view inline; the
	// journal row carries this session's ID and is skipped on poll.
	s.mutex.Lock()
	if s.view != nil && s.view.ID == mailbox.ID {
		s.view.insertUID(uid)
	}
	s.mutex.Unlock()

	s.Log("[APPEND] uid %d to %s (%d bytes)", uid, mailbox.Name, buf.Len())
	return &imap.AppendData{
		UID:         uid,
		UIDValidity: mailbox.UIDValidity,
	}, nil
}
