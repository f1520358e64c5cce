package imap

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"

	"github.com/driftmail/keel/db"
)

func testView(uids ...imap.UID) *mailboxView {
	return newMailboxView(&db.DBMailbox{ID: 1, Name: "INBOX"}, uids, 10, false)
}

func TestSeqNum(t *testing.T) {
	v := testView(4, 8, 15, 16)
	assert.Equal(t, uint32(1), v.seqNum(4))
	assert.Equal(t, uint32(3), v.seqNum(15))
	assert.Equal(t, uint32(4), v.seqNum(16))
	assert.Equal(t, uint32(0), v.seqNum(5))
	assert.Equal(t, uint32(0), v.seqNum(99))
}

func TestUIDForSeq(t *testing.T) {
	v := testView(4, 8, 15)
	assert.Equal(t, imap.UID(4), v.uidForSeq(1))
	assert.Equal(t, imap.UID(15), v.uidForSeq(3))
	assert.Equal(t, imap.UID(0), v.uidForSeq(0))
	assert.Equal(t, imap.UID(0), v.uidForSeq(4))
}

func TestInsertUIDKeepsOrder(t *testing.T) {
	v := testView(4, 15)
	v.insertUID(8)
	v.insertUID(1)
	v.insertUID(20)
	v.insertUID(8) // duplicate is ignored
	assert.Equal(t, []imap.UID{1, 4, 8, 15, 20}, v.uids)
}

func TestRemoveUIDReturnsVacatedSeq(t *testing.T) {
	v := testView(4, 8, 15)
	assert.Equal(t, uint32(2), v.removeUID(8))
	assert.Equal(t, []imap.UID{4, 15}, v.uids)
	assert.Equal(t, uint32(0), v.removeUID(8))
	// Remaining messages shifted down.
	assert.Equal(t, uint32(2), v.seqNum(15))
}

func TestResolveSeqSet(t *testing.T) {
	v := testView(4, 8, 15, 16, 23)
	got := v.resolveSeqSet(imap.SeqSet{{Start: 2, Stop: 4}})
	assert.Equal(t, []imap.UID{8, 15, 16}, got)
}

func TestResolveSeqSetStar(t *testing.T) {
	v := testView(4, 8, 15)
	// "2:*"
	got := v.resolveSeqSet(imap.SeqSet{{Start: 2, Stop: 0}})
	assert.Equal(t, []imap.UID{8, 15}, got)
	// "*" alone
	got = v.resolveSeqSet(imap.SeqSet{{Start: 0, Stop: 0}})
	assert.Equal(t, []imap.UID{15}, got)
}

func TestResolveSeqSetClampsOutOfRange(t *testing.T) {
	v := testView(4, 8)
	got := v.resolveSeqSet(imap.SeqSet{{Start: 1, Stop: 99}})
	assert.Equal(t, []imap.UID{4, 8}, got)
}

func TestResolveUIDSet(t *testing.T) {
	v := testView(4, 8, 15, 16, 23)
	got := v.resolveUIDSet(imap.UIDSet{{Start: 5, Stop: 16}})
	assert.Equal(t, []imap.UID{8, 15, 16}, got)
}

func TestResolveUIDSetStar(t *testing.T) {
	v := testView(4, 8, 15)
	// "8:*"
	got := v.resolveUIDSet(imap.UIDSet{{Start: 8, Stop: 0}})
	assert.Equal(t, []imap.UID{8, 15}, got)
	// "*" resolves to the highest UID even when the range is inverted.
	got = v.resolveUIDSet(imap.UIDSet{{Start: 0, Stop: 0}})
	assert.Equal(t, []imap.UID{15}, got)
}

func TestResolveUIDSetEmptyView(t *testing.T) {
	v := testView()
	assert.Empty(t, v.resolveUIDSet(imap.UIDSet{{Start: 1, Stop: 100}}))
}

func TestResolveNumSetDeduplicates(t *testing.T) {
	v := testView(4, 8, 15)
	got := v.resolveNumSet(imap.UIDSet{{Start: 4, Stop: 8}, {Start: 8, Stop: 15}})
	assert.Equal(t, []imap.UID{4, 8, 15}, got)
}

func TestPermittedFlags(t *testing.T) {
	v := testView(1)
	v.Flags = []string{"Work"}
	flags := v.permittedFlags()
	assert.Contains(t, flags, imap.FlagSeen)
	assert.Contains(t, flags, imap.Flag("Work"))
	assert.Contains(t, flags, imap.FlagWildcard)
}

func TestRewriteSeqCriteria(t *testing.T) {
	v := testView(4, 8, 15)
	criteria := &imap.SearchCriteria{
		SeqNum: []imap.SeqSet{{{Start: 1, Stop: 2}}},
		Not: []imap.SearchCriteria{{
			SeqNum: []imap.SeqSet{{{Start: 3, Stop: 3}}},
		}},
	}
	rewritten := v.rewriteSeqCriteria(criteria)

	assert.Empty(t, rewritten.SeqNum)
	if assert.Len(t, rewritten.UID, 1) {
		assert.True(t, rewritten.UID[0].Contains(4))
		assert.True(t, rewritten.UID[0].Contains(8))
		assert.False(t, rewritten.UID[0].Contains(15))
	}
	if assert.Len(t, rewritten.Not, 1) && assert.Len(t, rewritten.Not[0].UID, 1) {
		assert.True(t, rewritten.Not[0].UID[0].Contains(15))
	}
	// The original is untouched.
	assert.Len(t, criteria.SeqNum, 1)
}
