package imap

import (
	"errors"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Select(mailboxName string, options *imap.SelectOptions) (*imap.SelectData, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mailbox, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), mailboxName)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: "Mailbox does not exist",
			}
		}
		return nil, s.internalError("[SELECT] failed to fetch mailbox %s: %v", mailboxName, err)
	}

	summary, err := s.server.db.GetMailboxSummary(s.ctx, mailbox.ID)
	if err != nil {
		return nil, s.internalError("[SELECT] failed to fetch mailbox summary: %v", err)
	}

	uids, err := s.server.db.GetMailboxUIDs(s.ctx, mailbox.ID)
	if err != nil {
		return nil, s.internalError("[SELECT] failed to fetch mailbox UIDs: %v", err)
	}

	readOnly := options != nil && options.ReadOnly
	s.view = newMailboxView(mailbox, uids, summary.HighestModSeq, readOnly)

	s.Log("[SELECT] %s (%d messages)", mailbox.Name, len(uids))
	return &imap.SelectData{
		Flags:         s.view.permittedFlags(),
		NumMessages:   s.view.numMessages(),
		UIDNext:       summary.UIDNext,
		UIDValidity:   mailbox.UIDValidity,
		NumRecent:     0,
		HighestModSeq: summary.HighestModSeq,
	}, nil
}

func (s *IMAPSession) Unselect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.view = nil
	return nil
}
