package consts

const MailboxDelimiter = '/'

const MailboxInbox = "INBOX"
const MailboxSent = "Sent"
const MailboxDrafts = "Drafts"
const MailboxArchive = "Archive"
const MailboxJunk = "Junk"
const MailboxTrash = "Trash"

// DefaultMailboxes are created on first login and refuse deletion.
var DefaultMailboxes = []string{
	MailboxInbox,
	MailboxSent,
	MailboxDrafts,
	MailboxArchive,
	MailboxJunk,
	MailboxTrash,
}

// DefaultMailboxSpecialUse maps default mailboxes to their RFC 6154
// SPECIAL-USE attribute. INBOX carries none.
var DefaultMailboxSpecialUse = map[string]string{
	MailboxSent:    "\\Sent",
	MailboxDrafts:  "\\Drafts",
	MailboxArchive: "\\Archive",
	MailboxJunk:    "\\Junk",
	MailboxTrash:   "\\Trash",
}
