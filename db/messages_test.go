package db

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeFlags(t *testing.T) {
	got := normalizeFlags([]imap.Flag{"\\Seen", "\\seen", "Work", "work", "\\Recent", ""})
	assert.Equal(t, []imap.Flag{"\\Seen", "Work"}, got)
}

func TestNormalizeFlagsDropsOverlongKeywords(t *testing.T) {
	long := imap.Flag(strings.Repeat("x", FlagsMaxKeywordLength+1))
	got := normalizeFlags([]imap.Flag{long, "ok"})
	assert.Equal(t, []imap.Flag{"ok"}, got)
}

func TestNormalizeFlagsSortsCaseInsensitively(t *testing.T) {
	got := normalizeFlags([]imap.Flag{"zeta", "Alpha", "\\Seen"})
	assert.Equal(t, []imap.Flag{"Alpha", "\\Seen", "zeta"}, got)
}

func TestApplyFlagOpSet(t *testing.T) {
	got := applyFlagOp([]imap.Flag{"\\Seen", "old"}, imap.StoreFlagsSet, []imap.Flag{"\\Flagged"})
	assert.Equal(t, []imap.Flag{"\\Flagged"}, got)
}

func TestApplyFlagOpAdd(t *testing.T) {
	got := applyFlagOp([]imap.Flag{"\\Seen"}, imap.StoreFlagsAdd, []imap.Flag{"\\Flagged", "\\seen"})
	assert.Equal(t, []imap.Flag{"\\Flagged", "\\Seen"}, got)
}

func TestApplyFlagOpDel(t *testing.T) {
	got := applyFlagOp([]imap.Flag{"\\Seen", "\\Flagged", "work"}, imap.StoreFlagsDel, []imap.Flag{"\\FLAGGED", "WORK"})
	assert.Equal(t, []imap.Flag{"\\Seen"}, got)
}

func TestSystemFlagColumns(t *testing.T) {
	seen, flagged, deleted, answered, draft := systemFlagColumns([]imap.Flag{"\\Seen", "\\Deleted", "work"})
	assert.True(t, seen)
	assert.False(t, flagged)
	assert.True(t, deleted)
	assert.False(t, answered)
	assert.False(t, draft)
}
