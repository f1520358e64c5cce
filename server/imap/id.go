package imap

import "github.com/emersion/go-imap/v2"

// ID logs the client implementation name for abuse triage and returns
// our own identity.
func (s *IMAPSession) ID(data *imap.IDData) (*imap.IDData, error) {
	if data != nil {
		s.Log("[ID] client name=%q version=%q", data.Name, data.Version)
	}
	id := s.server.idData
	return &id, nil
}
