package imap

import (
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Delete(name string) error {
	err := s.server.db.DeleteMailbox(s.ctx, s.UserID(), name)
	if err != nil {
		switch {
		case errors.Is(err, consts.ErrMailboxNotFound):
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: "Mailbox does not exist",
			}
		case errors.Is(err, consts.ErrMailboxCannotDelete):
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNoPerm,
				Text: "Mailbox cannot be deleted",
			}
		}
		return s.internalError("[DELETE] failed to delete mailbox %s: %v", name, err)
	}

	s.mutex.Lock()
	if s.view != nil && s.view.Name == name {
		s.view = nil
	}
	s.mutex.Unlock()

	s.Log("[DELETE] %s", name)
	return nil
}
