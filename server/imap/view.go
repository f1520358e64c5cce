package imap

import (
	"sort"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/db"
)

// mailboxView is the session's private picture of the selected
// mailbox: the ascending UID list defines the message sequence numbers
// this session sees. It only changes when the session applies its own
// mutations inline or replays journal entries in Poll, so MSNs stay
// stable between the untagged responses the client has been shown.
type mailboxView struct {
	*db.DBMailbox

	uids          []imap.UID // ascending
	highestModSeq uint64
	readOnly      bool

	// pendingExpunge holds journal expunges that arrived while an
	// EXPUNGE response was not permitted (FETCH, STORE, SEARCH).
	pendingExpunge []db.JournalEntry
}

func newMailboxView(mailbox *db.DBMailbox, uids []imap.UID, highestModSeq uint64, readOnly bool) *mailboxView {
	return &mailboxView{
		DBMailbox:     mailbox,
		uids:          uids,
		highestModSeq: highestModSeq,
		readOnly:      readOnly,
	}
}

func (v *mailboxView) numMessages() uint32 {
	return uint32(len(v.uids))
}

// seqNum returns the 1-based sequence number of a UID, or 0 when the
// UID is not in the view.
func (v *mailboxView) seqNum(uid imap.UID) uint32 {
	i := sort.Search(len(v.uids), func(i int) bool { return v.uids[i] >= uid })
	if i < len(v.uids) && v.uids[i] == uid {
		return uint32(i + 1)
	}
	return 0
}

// uidForSeq returns the UID at a 1-based sequence number, or 0 when out
// of range.
func (v *mailboxView) uidForSeq(seq uint32) imap.UID {
	if seq == 0 || int(seq) > len(v.uids) {
		return 0
	}
	return v.uids[seq-1]
}

// insertUID adds a UID, keeping the list ascending. Duplicates are
// ignored.
func (v *mailboxView) insertUID(uid imap.UID) {
	i := sort.Search(len(v.uids), func(i int) bool { return v.uids[i] >= uid })
	if i < len(v.uids) && v.uids[i] == uid {
		return
	}
	v.uids = append(v.uids, 0)
	copy(v.uids[i+1:], v.uids[i:])
	v.uids[i] = uid
}

// removeUID drops a UID and returns the sequence number it occupied,
// or 0 when absent.
func (v *mailboxView) removeUID(uid imap.UID) uint32 {
	i := sort.Search(len(v.uids), func(i int) bool { return v.uids[i] >= uid })
	if i >= len(v.uids) || v.uids[i] != uid {
		return 0
	}
	v.uids = append(v.uids[:i], v.uids[i+1:]...)
	return uint32(i + 1)
}

// resolveNumSet maps a sequence or UID set onto the view, returning
// matching UIDs ascending. Unknown numbers are silently dropped, as
// SEARCH and FETCH treat them.
func (v *mailboxView) resolveNumSet(numSet imap.NumSet) []imap.UID {
	switch set := numSet.(type) {
	case imap.SeqSet:
		return v.resolveSeqSet(set)
	case imap.UIDSet:
		return v.resolveUIDSet(set)
	}
	return nil
}

func (v *mailboxView) resolveSeqSet(set imap.SeqSet) []imap.UID {
	picked := make(map[imap.UID]struct{})
	for _, r := range set {
		start, stop := r.Start, r.Stop
		// A zero bound is "*": the highest sequence number.
		if start == 0 {
			start = v.numMessages()
		}
		if stop == 0 {
			stop = v.numMessages()
		}
		if start > stop {
			start, stop = stop, start
		}
		if stop > v.numMessages() {
			stop = v.numMessages()
		}
		for seq := start; seq <= stop && seq > 0; seq++ {
			picked[v.uids[seq-1]] = struct{}{}
		}
	}
	return sortedUIDs(picked)
}

func (v *mailboxView) resolveUIDSet(set imap.UIDSet) []imap.UID {
	if len(v.uids) == 0 {
		return nil
	}
	maxUID := v.uids[len(v.uids)-1]
	picked := make(map[imap.UID]struct{})
	for _, r := range set {
		start, stop := r.Start, r.Stop
		if start == 0 {
			start = maxUID
		}
		if stop == 0 {
			stop = maxUID
		}
		if start > stop {
			start, stop = stop, start
		}
		i := sort.Search(len(v.uids), func(i int) bool { return v.uids[i] >= start })
		for ; i < len(v.uids) && v.uids[i] <= stop; i++ {
			picked[v.uids[i]] = struct{}{}
		}
	}
	return sortedUIDs(picked)
}

func sortedUIDs(picked map[imap.UID]struct{}) []imap.UID {
	out := make([]imap.UID, 0, len(picked))
	for uid := range picked {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// permittedFlags is what the PERMANENTFLAGS response advertises: the
// system flags, the keywords seen in this mailbox and the wildcard.
func (v *mailboxView) permittedFlags() []imap.Flag {
	flags := []imap.Flag{
		imap.FlagSeen,
		imap.FlagAnswered,
		imap.FlagFlagged,
		imap.FlagDeleted,
		imap.FlagDraft,
	}
	for _, keyword := range v.Flags {
		flags = append(flags, imap.Flag(keyword))
	}
	return append(flags, imap.FlagWildcard)
}
