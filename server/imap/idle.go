package imap

import (
	"time"

	"github.com/emersion/go-imap/v2/imapserver"
)

// How often an idling session polls the journal for changes.
var idlePollInterval = 15 * time.Second

func (s *IMAPSession) Idle(w *imapserver.UpdateWriter, stop <-chan struct{}) error {
	timer := time.NewTicker(idlePollInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-s.ctx.Done():
			return nil
		case <-timer.C:
			if err := s.Poll(w, true); err != nil {
				return err
			}
		}
	}
}
