package db

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, c *imap.SearchCriteria) compiledSearch {
	t.Helper()
	out, err := compileSearchCriteria(c, newSearchParams())
	require.NoError(t, err)
	return out
}

func TestCompileSystemFlag(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{Flag: []imap.Flag{imap.FlagSeen}})
	assert.Equal(t, "m.seen", out.cond)
	assert.False(t, out.joinFiles)
}

func TestCompileKeywordFlag(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{NotFlag: []imap.Flag{"Work"}})
	assert.Contains(t, out.cond, "NOT EXISTS")
	assert.Contains(t, out.cond, "jsonb_array_elements_text(m.flags)")
}

func TestCompileBodyJoinsFiles(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{Body: []string{"hello"}})
	assert.True(t, out.joinFiles)
	assert.Contains(t, out.cond, "plainto_tsquery")
}

func TestCompileNegatedFulltextMatchesNothing(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{
		Not: []imap.SearchCriteria{{Body: []string{"hello"}}},
	})
	assert.True(t, out.nothing)
}

func TestCompileEmptyUIDSetMatchesNothing(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{UID: []imap.UIDSet{{}}})
	assert.True(t, out.nothing)
}

func TestCompileOrCollapsesNothingBranch(t *testing.T) {
	// OR of an impossible branch and \Seen reduces to \Seen.
	out := compile(t, &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			{UID: []imap.UIDSet{{}}},
			{Flag: []imap.Flag{imap.FlagSeen}},
		}},
	})
	assert.False(t, out.nothing)
	assert.Equal(t, "m.seen", out.cond)
}

func TestCompileOrBothNothing(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			{UID: []imap.UIDSet{{}}},
			{UID: []imap.UIDSet{{}}},
		}},
	})
	assert.True(t, out.nothing)
}

func TestCompileNotNothingDropsCondition(t *testing.T) {
	// NOT of an impossible criterion matches everything.
	out := compile(t, &imap.SearchCriteria{
		Not:  []imap.SearchCriteria{{UID: []imap.UIDSet{{}}}},
		Flag: []imap.Flag{imap.FlagDraft},
	})
	assert.False(t, out.nothing)
	assert.Equal(t, "m.draft", out.cond)
}

func TestCompileUIDRanges(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{
		UID: []imap.UIDSet{{{Start: 5, Stop: 10}, {Start: 20, Stop: 20}}},
	})
	assert.Contains(t, out.cond, "m.uid BETWEEN")
	assert.Contains(t, out.cond, "m.uid =")
}

func TestCompileSeqNumRejected(t *testing.T) {
	_, err := compileSearchCriteria(&imap.SearchCriteria{
		SeqNum: []imap.SeqSet{{{Start: 1, Stop: 3}}},
	}, newSearchParams())
	assert.Error(t, err)
}

func TestCompileModSeq(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{
		ModSeq: &imap.SearchCriteriaModSeq{ModSeq: 42},
	})
	assert.Contains(t, out.cond, "m.modseq >=")
}

func TestCompileHeaderCriteria(t *testing.T) {
	out := compile(t, &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "Hello"}},
	})
	assert.True(t, out.joinFiles)
	assert.Contains(t, out.cond, "h->>'k'")
	assert.Contains(t, out.cond, "h->>'vs'")
}
