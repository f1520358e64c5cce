package imap

import (
	"sort"

	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/driftmail/keel/db"
)

// Poll replays the mailbox journal past this session's watermark and
// translates it into untagged responses against the session view.
// Entries written by this session are skipped; their effect was applied
// inline when the command ran.
func (s *IMAPSession) Poll(w *imapserver.UpdateWriter, allowExpunge bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	view := s.view
	if view == nil {
		return nil
	}

	journal, err := s.server.db.PollJournal(s.ctx, view.ID, view.highestModSeq)
	if err != nil {
		return s.internalError("[POLL] failed to read journal: %v", err)
	}

	var fetches []db.JournalEntry
	expunges := view.pendingExpunge
	view.pendingExpunge = nil

	existsApplied := false
	for _, entry := range journal.Entries {
		if entry.Ignore == s.Id {
			continue
		}
		switch entry.Command {
		case db.JournalExists:
			view.insertUID(entry.UID)
			existsApplied = true
		case db.JournalFetch:
			fetches = append(fetches, entry)
		case db.JournalExpunge:
			expunges = append(expunges, entry)
		}
	}

	if existsApplied {
		if err := w.WriteNumMessages(view.numMessages()); err != nil {
			return err
		}
	}

	for _, entry := range fetches {
		seq := view.seqNum(entry.UID)
		if seq == 0 {
			// Already expunged from this view; the flag change is moot.
			continue
		}
		if err := w.WriteMessageFlags(seq, entry.UID, entry.Flags); err != nil {
			return err
		}
	}

	if allowExpunge {
		// Emit in strictly decreasing sequence order so each EXPUNGE
		// line is valid against the view as shrunk so far.
		seen := make(map[uint32]struct{}, len(expunges))
		seqs := make([]uint32, 0, len(expunges))
		for _, entry := range expunges {
			if seq := view.seqNum(entry.UID); seq > 0 {
				if _, dup := seen[seq]; !dup {
					seen[seq] = struct{}{}
					seqs = append(seqs, seq)
				}
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
	} else if len(expunges) > 0 {
		// EXPUNGE responses are forbidden here; hold them for the next
		// opportunity.
		view.pendingExpunge = expunges
	}

	if journal.ModSeq > view.highestModSeq {
		view.highestModSeq = journal.ModSeq
	}
	return nil
}
