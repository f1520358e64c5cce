package imap

import (
	"errors"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

func (s *IMAPSession) Create(name string, options *imap.CreateOptions) error {
	name = strings.TrimSuffix(name, string(consts.MailboxDelimiter))
	if name == "" {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Mailbox name is empty",
		}
	}

	// A nested name requires the parent to exist already.
	if i := strings.LastIndexByte(name, consts.MailboxDelimiter); i >= 0 {
		parent := name[:i]
		if _, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), parent); err != nil {
			if errors.Is(err, consts.ErrMailboxNotFound) {
				return &imap.Error{
					Type: imap.StatusResponseTypeNo,
					Code: imap.ResponseCodeTryCreate,
					Text: "Parent mailbox does not exist",
				}
			}
			return s.internalError("[CREATE] failed to check parent mailbox: %v", err)
		}
	}

	var specialUse string
	if options != nil && len(options.SpecialUse) > 0 {
		specialUse = string(options.SpecialUse[0])
	}

	if err := s.server.db.CreateMailbox(s.ctx, s.UserID(), name, specialUse); err != nil {
		if errors.Is(err, consts.ErrMailboxAlreadyExists) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAlreadyExists,
				Text: "Mailbox already exists",
			}
		}
		return s.internalError("[CREATE] failed to create mailbox %s: %v", name, err)
	}

	s.Log("[CREATE] %s", name)
	return nil
}
