package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/metrics"
	"github.com/driftmail/keel/server"
)

func (s *IMAPSession) Login(address, password string) error {
	s.Log("[LOGIN] attempt for %s", address)

	addr, err := server.NewAddress(address)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeAuthenticationFailed,
			Text: "Username not in the correct format",
		}
	}

	limiterKey := fmt.Sprintf("%s:%s", addr.FullAddress(), s.RemoteIP)
	if !s.server.limiter.Allow(limiterKey) {
		s.Log("[LOGIN] throttled %s", limiterKey)
		metrics.LoginAttemptsTotal.WithLabelValues("throttled").Inc()
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeAuthenticationFailed,
			Text: "Too many login attempts, try again later",
		}
	}

	userID, err := s.authenticate(addr, password)
	if err != nil {
		s.Log("[LOGIN] authentication failed: %v", err)
		metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeAuthenticationFailed,
			Text: "Invalid username or password",
		}
	}
	s.server.limiter.Clear(limiterKey)

	if err := s.server.db.CreateDefaultMailboxes(s.ctx, userID); err != nil {
		return s.internalError("[LOGIN] failed to create default mailboxes: %v", err)
	}

	s.IMAPUser = NewIMAPUser(addr, userID)
	s.Session.User = &s.IMAPUser.User

	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	metrics.SessionsActive.WithLabelValues("IMAP").Inc()
	s.Log("[LOGIN] authenticated")
	return nil
}

// authenticate accepts either the account password or, when a token
// secret is configured, an app token presented in the password field.
func (s *IMAPSession) authenticate(addr server.Address, password string) (int64, error) {
	if s.server.tokenSecret != "" && server.LooksLikeToken(password) {
		if err := server.VerifyAppToken(s.server.tokenSecret, addr.FullAddress(), password); err != nil {
			return 0, err
		}
		userID, err := s.server.db.GetUserIDByAddress(s.ctx, addr.FullAddress())
		if err != nil {
			if errors.Is(err, consts.ErrUserNotFound) {
				return 0, consts.ErrUserNotFound
			}
			return 0, err
		}
		return userID, nil
	}
	return s.server.db.Authenticate(s.ctx, addr.FullAddress(), password)
}
