package imap

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
)

func (s *IMAPSession) Search(numKind imapserver.NumKind, criteria *imap.SearchCriteria, options *imap.SearchOptions) (*imap.SearchData, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	view, err := s.requireSelected()
	if err != nil {
		return nil, err
	}

	// Sequence numbers only exist in this session's view, so they are
	// rewritten to UID sets before the criteria reach the database.
	criteria = view.rewriteSeqCriteria(criteria)

	messages, err := s.server.db.SearchMessages(s.ctx, view.ID, criteria)
	if err != nil {
		return nil, s.internalError("[SEARCH] failed: %v", err)
	}

	var (
		uids          imap.UIDSet
		seqNums       imap.SeqSet
		count         uint32
		highestModSeq uint64
	)
	for _, msg := range messages {
		seq := view.seqNum(msg.UID)
		if seq == 0 {
			// Matched in the database but not visible in this
			// session yet; it will show up after the next poll.
			continue
		}
		uids.AddNum(msg.UID)
		seqNums.AddNum(seq)
		count++
		if msg.ModSeq > highestModSeq {
			highestModSeq = msg.ModSeq
		}
	}

	searchData := &imap.SearchData{Count: count}
	switch numKind {
	case imapserver.NumKindUID:
		searchData.All = uids
	case imapserver.NumKindSeq:
		searchData.All = seqNums
	}

	// SEARCH MODSEQ replies with the highest mod-sequence among the
	// matches (RFC 7162).
	if criteria.ModSeq != nil && count > 0 {
		searchData.ModSeq = highestModSeq
	}

	return searchData, nil
}

// rewriteSeqCriteria returns a copy of the criteria with every
// sequence-number set resolved to the equivalent UID set.
func (v *mailboxView) rewriteSeqCriteria(criteria *imap.SearchCriteria) *imap.SearchCriteria {
	rewritten := *criteria

	rewritten.SeqNum = nil
	rewritten.UID = append([]imap.UIDSet(nil), criteria.UID...)
	for _, seqSet := range criteria.SeqNum {
		var uidSet imap.UIDSet
		for _, uid := range v.resolveSeqSet(seqSet) {
			uidSet.AddNum(uid)
		}
		rewritten.UID = append(rewritten.UID, uidSet)
	}

	rewritten.Not = make([]imap.SearchCriteria, len(criteria.Not))
	for i := range criteria.Not {
		rewritten.Not[i] = *v.rewriteSeqCriteria(&criteria.Not[i])
	}
	rewritten.Or = make([][2]imap.SearchCriteria, len(criteria.Or))
	for i := range criteria.Or {
		for j := range criteria.Or[i] {
			rewritten.Or[i][j] = *v.rewriteSeqCriteria(&criteria.Or[i][j])
		}
	}
	return &rewritten
}
