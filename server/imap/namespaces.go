package imap

import (
	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
)

// Namespace advertises a single personal namespace rooted at the empty
// prefix.
func (s *IMAPSession) Namespace() (*imap.NamespaceData, error) {
	return &imap.NamespaceData{
		Personal: []imap.NamespaceDescriptor{
			{Prefix: "", Delim: consts.MailboxDelimiter},
		},
	}, nil
}
