package imap

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/db"
)

func (s *IMAPSession) List(w *imapserver.ListWriter, ref string, patterns []string, options *imap.ListOptions) error {
	// An empty pattern list is a hierarchy delimiter query.
	if len(patterns) == 0 {
		return w.WriteList(&imap.ListData{
			Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect},
			Delim: consts.MailboxDelimiter,
		})
	}

	subscribedOnly := options != nil && options.SelectSubscribed
	mailboxes, err := s.server.db.GetMailboxes(s.ctx, s.UserID(), subscribedOnly)
	if err != nil {
		return s.internalError("[LIST] failed to fetch mailboxes: %v", err)
	}

	var matched []*db.DBMailbox
	for _, mailbox := range mailboxes {
		for _, pattern := range patterns {
			if imapserver.MatchList(mailbox.Name, consts.MailboxDelimiter, ref, pattern) {
				matched = append(matched, mailbox)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	for _, mailbox := range matched {
		if err := w.WriteList(s.listData(mailbox)); err != nil {
			return err
		}
	}
	return nil
}

func (s *IMAPSession) listData(mailbox *db.DBMailbox) *imap.ListData {
	data := &imap.ListData{
		Mailbox: mailbox.Name,
		Delim:   consts.MailboxDelimiter,
	}
	if mailbox.HasChildren {
		data.Attrs = append(data.Attrs, imap.MailboxAttrHasChildren)
	} else {
		data.Attrs = append(data.Attrs, imap.MailboxAttrHasNoChildren)
	}
	if mailbox.Subscribed {
		data.Attrs = append(data.Attrs, imap.MailboxAttrSubscribed)
	}
	if attr := specialUseAttr(mailbox.SpecialUse); attr != "" {
		data.Attrs = append(data.Attrs, attr)
	}
	return data
}

func specialUseAttr(specialUse string) imap.MailboxAttr {
	switch strings.ToLower(specialUse) {
	case "\\sent":
		return imap.MailboxAttrSent
	case "\\drafts":
		return imap.MailboxAttrDrafts
	case "\\trash":
		return imap.MailboxAttrTrash
	case "\\junk":
		return imap.MailboxAttrJunk
	case "\\archive":
		return imap.MailboxAttrArchive
	}
	return ""
}
