package imap

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
)

// Expunge handles EXPUNGE and, with a UID set, UID EXPUNGE (UIDPLUS).
// Responses are emitted ascending by UID; each removal shifts the
// remaining sequence numbers, which the view tracks as we go.
func (s *IMAPSession) Expunge(w *imapserver.ExpungeWriter, uids *imap.UIDSet) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	view, err := s.requireSelected()
	if err != nil {
		return err
	}
	if view.readOnly {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeNoPerm,
			Text: "Mailbox is read-only",
		}
	}

	var uidFilter []imap.UID
	if uids != nil {
		uidFilter = view.resolveUIDSet(*uids)
		if len(uidFilter) == 0 {
			return nil
		}
	}

	expunged, err := s.server.db.ExpungeMessages(s.ctx, s.UserID(), view.ID, uidFilter, s.Id)
	if err != nil {
		return s.internalError("[EXPUNGE] failed: %v", err)
	}

	for _, uid := range expunged {
		seq := view.removeUID(uid)
		if seq == 0 {
			continue
		}
		if err := w.WriteExpunge(seq); err != nil {
			return err
		}
	}

	s.Log("[EXPUNGE] removed %d messages", len(expunged))
	return nil
}
