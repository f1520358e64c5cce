package imap

import (
	"errors"
	"sort"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/driftmail/keel/consts"
)

// Move relocates messages atomically (RFC 6851): the client sees a
// COPYUID response followed by the expunges of the source messages.
func (s *IMAPSession) Move(w *imapserver.MoveWriter, numSet imap.NumSet, destName string) error {
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

	dest, err := s.server.db.GetMailboxByName(s.ctx, s.UserID(), destName)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeTryCreate,
				Text: "Destination mailbox does not exist",
			}
		}
		return s.internalError("[MOVE] failed to fetch mailbox %s: %v", destName, err)
	}
	if dest.ID == view.ID {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Source and destination mailboxes are the same",
		}
	}

	uids := view.resolveNumSet(numSet)
	if len(uids) == 0 {
		return nil
	}

	mapping, err := s.server.handler.Move(s.ctx, s.UserID(), view.ID, dest.ID, uids, s.Id)
	if err != nil {
		return s.internalError("[MOVE] failed: %v", err)
	}
	if len(mapping) == 0 {
		return nil
	}

	copyData := &imap.CopyData{UIDValidity: dest.UIDValidity}
	var moved []imap.UID
	for _, src := range uids {
		destUID, ok := mapping[src]
		if !ok {
			continue
		}
		moved = append(moved, src)
		copyData.SourceUIDs.AddNum(src)
		copyData.DestUIDs.AddNum(destUID)
	}
	if err := w.WriteCopyData(copyData); err != nil {
		return err
	}

	// Emit the source expunges in decreasing sequence order so every
	// line is valid against the shrinking view.
	seqs := make([]uint32, 0, len(moved))
	for _, uid := range moved {
		if seq := view.seqNum(uid); seq > 0 {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	for _, seq := range seqs {
		uid := view.uidForSeq(seq)
		if err := w.WriteExpunge(seq); err != nil {
			return err
		}
		view.removeUID(uid)
	}

	s.Log("[MOVE] %d messages to %s", len(moved), dest.Name)
	return nil
}
