package imap

import (
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
)

func (s *IMAPSession) Store(w *imapserver.FetchWriter, numSet imap.NumSet, flags *imap.StoreFlags, options *imap.StoreOptions) error {
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

	uids := view.resolveNumSet(numSet)
	if len(uids) == 0 {
		return nil
	}

	var unchangedSince *uint64
	if options != nil && options.UnchangedSince > 0 {
		since := options.UnchangedSince
		unchangedSince = &since
	}

	updated, skipped, err := s.server.db.UpdateMessageFlags(s.ctx, view.ID, uids, flags.Op, flags.Flags, unchangedSince, s.Id)
	if err != nil {
		return s.internalError("[STORE] failed to update flags: %v", err)
	}

	if !flags.Silent {
		for _, update := range updated {
			seq := view.seqNum(update.UID)
			if seq == 0 {
				continue
			}
			m := w.CreateMessage(seq)
			m.WriteUID(update.UID)
			m.WriteFlags(update.Flags)
			// RFC 7162: once CONDSTORE is in play the untagged FETCH
			// after a STORE carries the new MODSEQ.
			m.WriteModSeq(update.ModSeq)
			if err := m.Close(); err != nil {
				return err
			}
		}
	}

	if len(skipped) > 0 {
		// RFC 7162 permits failing the command with the set of
		// messages whose modseq moved past UNCHANGEDSINCE.
		modified := imap.UIDSet{}
		for _, uid := range skipped {
			modified.AddNum(uid)
		}
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCode("MODIFIED"),
			Text: fmt.Sprintf("Conditional STORE failed for %s", modified.String()),
		}
	}
	return nil
}
