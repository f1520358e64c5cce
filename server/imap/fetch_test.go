package imap

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"

	"github.com/driftmail/keel/db"
)

// A non-PEEK body fetch stores \Seen before the responses are written;
// the loaded rows must be patched so the rendered FLAGS and MODSEQ
// show the post-store state.
func TestApplyFlagUpdatesPatchesRenderedState(t *testing.T) {
	messages := []db.Message{
		{UID: 4, Flags: []imap.Flag{imap.FlagFlagged}, ModSeq: 10},
		{UID: 8, Flags: []imap.Flag{imap.FlagSeen}, ModSeq: 11},
		{UID: 15, Flags: nil, ModSeq: 12},
	}
	applyFlagUpdates(messages, []db.FlagUpdate{
		{UID: 4, Flags: []imap.Flag{imap.FlagFlagged, imap.FlagSeen}, ModSeq: 20},
		{UID: 15, Flags: []imap.Flag{imap.FlagSeen}, ModSeq: 21},
	})

	assert.Equal(t, []imap.Flag{imap.FlagFlagged, imap.FlagSeen}, messages[0].Flags)
	assert.Equal(t, uint64(20), messages[0].ModSeq)
	// Untouched message keeps its row state.
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, messages[1].Flags)
	assert.Equal(t, uint64(11), messages[1].ModSeq)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, messages[2].Flags)
	assert.Equal(t, uint64(21), messages[2].ModSeq)
}

func TestHasFlagIsCaseInsensitive(t *testing.T) {
	flags := []imap.Flag{imap.Flag("\\seen"), imap.Flag("work")}
	assert.True(t, hasFlag(flags, imap.FlagSeen))
	assert.True(t, hasFlag(flags, imap.Flag("Work")))
	assert.False(t, hasFlag(flags, imap.FlagDeleted))
}

func TestFetchSetsSeen(t *testing.T) {
	assert.False(t, fetchSetsSeen(&imap.FetchOptions{}))
	assert.False(t, fetchSetsSeen(&imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}))
	assert.True(t, fetchSetsSeen(&imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{Peek: true}, {}},
	}))
	assert.True(t, fetchSetsSeen(&imap.FetchOptions{
		BinarySection: []*imap.FetchItemBinarySection{{}},
	}))
}
