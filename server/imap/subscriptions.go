package imap

func (s *IMAPSession) Subscribe(name string) error {
	// Subscribing to a missing mailbox is accepted silently; clients
	// subscribe ahead of creation.
	if err := s.server.db.SetMailboxSubscribed(s.ctx, s.UserID(), name, true); err != nil {
		return s.internalError("[SUBSCRIBE] failed for %s: %v", name, err)
	}
	return nil
}

func (s *IMAPSession) Unsubscribe(name string) error {
	if err := s.server.db.SetMailboxSubscribed(s.ctx, s.UserID(), name, false); err != nil {
		return s.internalError("[UNSUBSCRIBE] failed for %s: %v", name, err)
	}
	return nil
}
