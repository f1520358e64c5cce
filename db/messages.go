package db

import (
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// FlagsMaxKeywordLength bounds user-defined keywords; longer ones are
// silently dropped.
const FlagsMaxKeywordLength = 100

type Message struct {
	ID          int64
	UserID      int64
	MailboxID   int64
	UID         imap.UID
	ModSeq      uint64
	ContentHash string
	IsUploaded  bool

	Flags        []imap.Flag
	InternalDate time.Time
	SentDate     time.Time
	Size         int64
	Subject      string
	MessageID    string
	InReplyTo    string

	BodyStructureBlob []byte
}

// systemFlagColumns derives the denormalized boolean columns from a
// flag list. The columns exist so flag searches and unseen counts never
// scan JSONB.
func systemFlagColumns(flags []imap.Flag) (seen, flagged, deleted, answered, draft bool) {
	for _, f := range flags {
		switch imap.Flag(strings.ToLower(string(f))) {
		case imap.FlagSeen:
			seen = true
		case imap.FlagFlagged:
			flagged = true
		case imap.FlagDeleted:
			deleted = true
		case imap.FlagAnswered:
			answered = true
		case imap.FlagDraft:
			draft = true
		}
	}
	return
}

// normalizeFlags dedupes (case-insensitively, first spelling wins),
// drops overlong keywords and \Recent, and sorts for stable storage.
func normalizeFlags(flags []imap.Flag) []imap.Flag {
	seen := make(map[string]struct{}, len(flags))
	out := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		if f == "" || f == "\\Recent" {
			continue
		}
		if !strings.HasPrefix(string(f), "\\") && len(f) > FlagsMaxKeywordLength {
			continue
		}
		key := strings.ToLower(string(f))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b imap.Flag) int {
		return strings.Compare(strings.ToLower(string(a)), strings.ToLower(string(b)))
	})
	return out
}

// applyFlagOp computes the new flag list for a STORE operation.
func applyFlagOp(current []imap.Flag, op imap.StoreFlagsOp, change []imap.Flag) []imap.Flag {
	switch op {
	case imap.StoreFlagsSet:
		return normalizeFlags(change)
	case imap.StoreFlagsAdd:
		return normalizeFlags(append(slices.Clone(current), change...))
	case imap.StoreFlagsDel:
		removed := make(map[string]struct{}, len(change))
		for _, f := range change {
			removed[strings.ToLower(string(f))] = struct{}{}
		}
		out := make([]imap.Flag, 0, len(current))
		for _, f := range current {
			if _, drop := removed[strings.ToLower(string(f))]; !drop {
				out = append(out, f)
			}
		}
		return normalizeFlags(out)
	}
	return normalizeFlags(current)
}

func flagsToStrings(flags []imap.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func stringsToFlags(ss []string) []imap.Flag {
	out := make([]imap.Flag, len(ss))
	for i, s := range ss {
		out[i] = imap.Flag(s)
	}
	return out
}
