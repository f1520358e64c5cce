package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"
)

// compiledSearch is a SEARCH program compiled to a single SQL
// condition. nothing marks criteria that provably match no message
// (e.g. a negated full-text term, which the index cannot answer); the
// caller returns an empty result without querying.
type compiledSearch struct {
	cond      string
	joinFiles bool
	nothing   bool
}

type searchParams struct {
	args pgx.NamedArgs
	n    int
}

func newSearchParams() *searchParams {
	return &searchParams{args: pgx.NamedArgs{}}
}

func (p *searchParams) add(v any) string {
	p.n++
	name := fmt.Sprintf("p%d", p.n)
	p.args[name] = v
	return "@" + name
}

// SearchMessages runs a compiled SEARCH over the live messages of a
// mailbox and returns matches ascending by UID. Only UID and ModSeq
// are populated.
func (db *Database) SearchMessages(ctx context.Context, mailboxID int64, criteria *imap.SearchCriteria) ([]Message, error) {
	params := newSearchParams()
	compiled, err := compileSearchCriteria(criteria, params)
	if err != nil {
		return nil, err
	}
	if compiled.nothing {
		return nil, nil
	}

	query := `SELECT m.uid, m.modseq FROM messages m`
	if compiled.joinFiles {
		query += ` JOIN files f ON f.content_hash = m.content_hash`
	}
	query += ` WHERE m.mailbox_id = @mailbox_id AND m.expunged_at IS NULL`
	if compiled.cond != "" {
		query += ` AND ` + compiled.cond
	}
	query += ` ORDER BY m.uid`
	params.args["mailbox_id"] = mailboxID

	rows, err := db.Pool.Query(ctx, query, params.args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.UID, &m.ModSeq); err != nil {
			return nil, err
		}
		m.MailboxID = mailboxID
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// compileSearchCriteria turns one criteria node into a conjunction of
// SQL conditions. Sequence-number criteria must have been rewritten to
// UID sets by the caller, which owns the session view.
func compileSearchCriteria(c *imap.SearchCriteria, p *searchParams) (compiledSearch, error) {
	var out compiledSearch
	var conds []string

	if len(c.SeqNum) > 0 {
		return out, fmt.Errorf("sequence-number criteria not resolved to UIDs")
	}

	for _, set := range c.UID {
		cond := uidSetCondition(set, p)
		if cond == "" {
			// Empty set matches nothing.
			out.nothing = true
			return out, nil
		}
		conds = append(conds, cond)
	}

	if !c.Since.IsZero() {
		conds = append(conds, fmt.Sprintf("m.internal_date >= %s", p.add(c.Since)))
	}
	if !c.Before.IsZero() {
		conds = append(conds, fmt.Sprintf("m.internal_date < %s", p.add(c.Before)))
	}
	if !c.SentSince.IsZero() {
		conds = append(conds, fmt.Sprintf("COALESCE(m.header_date, m.internal_date) >= %s", p.add(c.SentSince)))
	}
	if !c.SentBefore.IsZero() {
		conds = append(conds, fmt.Sprintf("COALESCE(m.header_date, m.internal_date) < %s", p.add(c.SentBefore)))
	}

	if c.Larger > 0 {
		conds = append(conds, fmt.Sprintf("m.size > %s", p.add(c.Larger)))
	}
	if c.Smaller > 0 {
		conds = append(conds, fmt.Sprintf("m.size < %s", p.add(c.Smaller)))
	}

	for _, flag := range c.Flag {
		conds = append(conds, flagCondition(flag, false, p))
	}
	for _, flag := range c.NotFlag {
		conds = append(conds, flagCondition(flag, true, p))
	}

	for _, text := range c.Body {
		out.joinFiles = true
		conds = append(conds, fmt.Sprintf("f.text_body_tsv @@ plainto_tsquery('simple', %s)", p.add(text)))
	}
	for _, text := range c.Text {
		out.joinFiles = true
		param := p.add(text)
		conds = append(conds, fmt.Sprintf(
			"(f.text_body_tsv @@ plainto_tsquery('simple', %s) OR EXISTS ("+
				"SELECT 1 FROM jsonb_array_elements(f.headers) h "+
				"WHERE h->>'vs' LIKE '%%' || LOWER(%s) || '%%'))", param, param))
	}

	for _, header := range c.Header {
		out.joinFiles = true
		key := p.add(strings.ToLower(header.Key))
		if header.Value == "" {
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM jsonb_array_elements(f.headers) h WHERE h->>'k' = %s)", key))
		} else {
			conds = append(conds, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM jsonb_array_elements(f.headers) h "+
					"WHERE h->>'k' = %s AND h->>'vs' LIKE '%%' || LOWER(%s) || '%%')",
				key, p.add(header.Value)))
		}
	}

	if c.ModSeq != nil {
		conds = append(conds, fmt.Sprintf("m.modseq >= %s", p.add(int64(c.ModSeq.ModSeq))))
	}

	for _, not := range c.Not {
		if containsFulltext(&not) {
			// The negation of a full-text match cannot be answered
			// from the index.
			out.nothing = true
			return out, nil
		}
		sub, err := compileSearchCriteria(&not, p)
		if err != nil {
			return out, err
		}
		if sub.nothing {
			// NOT nothing matches everything; drop the condition.
			continue
		}
		out.joinFiles = out.joinFiles || sub.joinFiles
		if sub.cond != "" {
			conds = append(conds, fmt.Sprintf("NOT (%s)", sub.cond))
		}
	}

	for _, or := range c.Or {
		left, err := compileSearchCriteria(&or[0], p)
		if err != nil {
			return out, err
		}
		right, err := compileSearchCriteria(&or[1], p)
		if err != nil {
			return out, err
		}
		out.joinFiles = out.joinFiles || left.joinFiles || right.joinFiles
		switch {
		case left.nothing && right.nothing:
			out.nothing = true
			return out, nil
		case left.nothing:
			if right.cond != "" {
				conds = append(conds, right.cond)
			}
		case right.nothing:
			if left.cond != "" {
				conds = append(conds, left.cond)
			}
		case left.cond == "" || right.cond == "":
			// One branch matches everything, so the OR does too.
		default:
			conds = append(conds, fmt.Sprintf("((%s) OR (%s))", left.cond, right.cond))
		}
	}

	out.cond = strings.Join(conds, " AND ")
	return out, nil
}

// uidSetCondition renders a UID set as a disjunction of range checks.
// An open upper bound (n:*) compares against uid_next implicitly by
// dropping the upper limit.
func uidSetCondition(set imap.UIDSet, p *searchParams) string {
	var parts []string
	for _, r := range set {
		start, stop := r.Start, r.Stop
		if stop != 0 && stop < start {
			start, stop = stop, start
		}
		switch {
		case start == 0:
			// *:* or *: matches the last message; leave to the caller's
			// view, which rewrites * before searching. A bare star set
			// here matches everything live.
			parts = append(parts, "TRUE")
		case stop == 0:
			parts = append(parts, fmt.Sprintf("m.uid >= %s", p.add(int64(start))))
		case start == stop:
			parts = append(parts, fmt.Sprintf("m.uid = %s", p.add(int64(start))))
		default:
			parts = append(parts, fmt.Sprintf("m.uid BETWEEN %s AND %s", p.add(int64(start)), p.add(int64(stop))))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// flagCondition uses the denormalized boolean columns for system flags
// and a case-insensitive JSONB scan for keywords.
func flagCondition(flag imap.Flag, negate bool, p *searchParams) string {
	var cond string
	switch imap.Flag(strings.ToLower(string(flag))) {
	case imap.FlagSeen:
		cond = "m.seen"
	case imap.FlagFlagged:
		cond = "m.flagged"
	case imap.FlagDeleted:
		cond = "m.deleted"
	case imap.FlagAnswered:
		cond = "m.answered"
	case imap.FlagDraft:
		cond = "m.draft"
	default:
		cond = fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(m.flags) ff WHERE LOWER(ff) = LOWER(%s))",
			p.add(string(flag)))
	}
	if negate {
		return "NOT " + cond
	}
	return cond
}

// containsFulltext reports whether any node in the tree carries a BODY
// or TEXT term.
func containsFulltext(c *imap.SearchCriteria) bool {
	if len(c.Body) > 0 || len(c.Text) > 0 {
		return true
	}
	for _, not := range c.Not {
		if containsFulltext(&not) {
			return true
		}
	}
	for _, or := range c.Or {
		if containsFulltext(&or[0]) || containsFulltext(&or[1]) {
			return true
		}
	}
	return false
}
