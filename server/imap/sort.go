package imap

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
)

// Sort is required by the imapserver.Session interface but is not
// implemented; the command is refused with a NO response.
func (s *IMAPSession) Sort(numKind imapserver.NumKind, sortCriteria []imap.SortCriterion, charset string, searchCriteria *imap.SearchCriteria, options *imap.SortOptions) (*imap.SortData, error) {
	return nil, &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Text: "SORT is not supported",
	}
}
