package imap

import (
	"errors"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Rename(oldName, newName string, options *imap.RenameOptions) error {
	if strings.EqualFold(oldName, newName) {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeAlreadyExists,
			Text: "Source and destination names are the same",
		}
	}
	if strings.EqualFold(oldName, consts.MailboxInbox) {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeNoPerm,
			Text: "INBOX cannot be renamed",
		}
	}

	err := s.server.db.RenameMailbox(s.ctx, s.UserID(), oldName, newName)
	if err != nil {
		switch {
		case errors.Is(err, consts.ErrMailboxNotFound):
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: "Mailbox does not exist",
			}
		case errors.Is(err, consts.ErrMailboxAlreadyExists):
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAlreadyExists,
				Text: "Target mailbox already exists",
			}
		}
		return s.internalError("[RENAME] failed to rename %s to %s: %v", oldName, newName, err)
	}

	s.Log("[RENAME] %s -> %s", oldName, newName)
	return nil
}
