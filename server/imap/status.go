package imap

import (
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Status(name string, options *imap.StatusOptions) (*imap.StatusData, error) {
	mailbox, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), name)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: "Mailbox does not exist",
			}
		}
		return nil, s.internalError("[STATUS] failed to fetch mailbox %s: %v", name, err)
	}

	// STATUS reads the database even when the mailbox is selected; the
	// session view may lag behind and that is fine for STATUS.
	summary, err := s.server.db.GetMailboxSummary(s.ctx, mailbox.ID)
	if err != nil {
		return nil, s.internalError("[STATUS] failed to fetch mailbox summary: %v", err)
	}

	statusData := &imap.StatusData{Mailbox: mailbox.Name}
	if options.NumMessages {
		num := summary.NumMessages
		statusData.NumMessages = &num
	}
	if options.NumUnseen {
		unseen := summary.NumUnseen
		statusData.NumUnseen = &unseen
	}
	if options.UIDNext {
		statusData.UIDNext = summary.UIDNext
	}
	if options.UIDValidity {
		statusData.UIDValidity = mailbox.UIDValidity
	}
	if options.NumRecent {
		recent := uint32(0)
		statusData.NumRecent = &recent
	}
	if options.HighestModSeq {
		statusData.HighestModSeq = summary.HighestModSeq
	}
	if options.Size {
		size := summary.TotalSize
		statusData.Size = &size
	}
	return statusData, nil
}
