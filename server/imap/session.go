package imap

import (
	"context"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	_ "github.com/emersion/go-message/charset"

	"github.com/driftmail/keel/server"
)

type IMAPSession struct {
	server.Session
	*IMAPUser
	server *IMAPServer
	conn   *imapserver.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// mutex guards the selected view across the command goroutine and
	// poll callbacks.
	mutex sync.Mutex
	view  *mailboxView
}

func (s *IMAPSession) Context() context.Context {
	return s.ctx
}

func (s *IMAPSession) internalError(format string, a ...interface{}) *imap.Error {
	s.Log(format, a...)
	return &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeServerBug,
		Text: fmt.Sprintf(format, a...),
	}
}

// requireSelected returns the current view or a BAD-equivalent error.
func (s *IMAPSession) requireSelected() (*mailboxView, error) {
	if s.view == nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "No mailbox selected",
		}
	}
	return s.view, nil
}

func (s *IMAPSession) Close() error {
	if s == nil {
		return nil
	}

	if s.IMAPUser != nil {
		userMutex := &s.IMAPUser.mutex
		fullAddress := s.IMAPUser.FullAddress()

		userMutex.Lock()
		s.Log("Closing session for user: %v", fullAddress)
		s.IMAPUser = nil
		s.Session.User = nil
		userMutex.Unlock()
	} else {
		s.Log("Client connection dropped (unauthenticated)")
	}

	s.mutex.Lock()
	s.view = nil
	s.mutex.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	return nil
}
