package lmtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"

	"github.com/driftmail/keel/consts"
	"github.com/driftmail/keel/helpers"
	"github.com/driftmail/keel/server"
	"github.com/driftmail/keel/server/sieveengine"
)

// LMTPSession handles one delivery transaction.
type LMTPSession struct {
	server.Session
	backend *LMTPServerBackend
	sender  *server.Address
	conn    *smtp.Conn
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *LMTPSession) Context() context.Context {
	return s.ctx
}

func (s *LMTPSession) Mail(from string, opts *smtp.MailOptions) error {
	fromAddress, err := server.NewAddress(from)
	if err != nil {
		s.Log("Invalid from address: %v", err)
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender",
		}
	}
	s.sender = &fromAddress
	s.Log("Mail from=%s", fromAddress.FullAddress())
	return nil
}

func (s *LMTPSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	toAddress, err := server.NewAddress(to)
	if err != nil {
		s.Log("Invalid to address: %v", err)
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient",
		}
	}
	userID, err := s.backend.db.GetUserIDByAddress(s.ctx, toAddress.FullAddress())
	if err != nil {
		s.Log("Unknown recipient %s: %v", toAddress.FullAddress(), err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	s.User = server.NewUser(toAddress, userID)
	s.Log("Rcpt to=%s (user %d)", toAddress.FullAddress(), userID)
	return nil
}

func (s *LMTPSession) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return s.internalError("failed to read message: %v", err)
	}
	raw := bytes.TrimLeft(buf.Bytes(), "\r\n")

	entity, err := server.ParseMessage(bytes.NewReader(raw))
	if err != nil {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message has malformed structure",
		}
	}

	result := s.runSieve(entity, raw)

	var mailboxName string
	switch result.Action {
	case sieveengine.ActionDiscard:
		s.Log("[SIEVE] message discarded")
		return nil
	case sieveengine.ActionFileInto:
		mailboxName = result.Mailbox
	case sieveengine.ActionRedirect:
		if s.backend.externalRelay != "" {
			if err := s.sendToExternalRelay(s.sender.FullAddress(), result.RedirectTo, raw); err == nil {
				s.Log("[SIEVE] message redirected to %s", result.RedirectTo)
				return nil
			} else {
				s.Log("[SIEVE] redirect to %s failed, delivering to INBOX: %v", result.RedirectTo, err)
			}
		} else {
			s.Log("[SIEVE] redirect requested but no external relay configured, delivering to INBOX")
		}
		mailboxName = consts.MailboxInbox
	case sieveengine.ActionVacation:
		if err := s.sendVacationResponse(result, entity); err != nil {
			s.Log("[SIEVE] vacation response failed: %v", err)
		}
		mailboxName = consts.MailboxInbox
	default:
		mailboxName = consts.MailboxInbox
	}

	mailbox, err := s.backend.db.GetMailboxByName(s.ctx, s.UserID(), mailboxName)
	if err != nil {
		if !errors.Is(err, consts.ErrMailboxNotFound) {
			return s.internalError("failed to fetch mailbox %s: %v", mailboxName, err)
		}
		s.Log("Mailbox %s not found, delivering to INBOX", mailboxName)
		mailbox, err = s.backend.db.GetMailboxByName(s.ctx, s.UserID(), consts.MailboxInbox)
		if err != nil {
			return s.internalError("failed to fetch INBOX: %v", err)
		}
	}

	uid, err := s.backend.handler.Deliver(s.ctx, &server.DeliveryOptions{
		UserID:       s.UserID(),
		MailboxID:    mailbox.ID,
		Raw:          raw,
		InternalDate: time.Now(),
		Source:       "LMTP",
		SessionID:    s.Id,
	})
	if err != nil {
		switch {
		case errors.Is(err, consts.ErrMessageTooLarge):
			return &smtp.SMTPError{
				Code:         552,
				EnhancedCode: smtp.EnhancedCode{5, 3, 4},
				Message:      "Message exceeds maximum size",
			}
		case errors.Is(err, consts.ErrOverQuota):
			return &smtp.SMTPError{
				Code:         552,
				EnhancedCode: smtp.EnhancedCode{5, 2, 2},
				Message:      "Mailbox is over quota",
			}
		case errors.Is(err, consts.ErrDBUniqueViolation):
			// The same message is already in this mailbox; accept the
			// delivery so the sender does not retry.
			s.Log("Duplicate delivery of an existing message, accepting")
			return nil
		}
		return s.internalError("failed to save message: %v", err)
	}

	s.Log("Message delivered to %s with UID %d", mailbox.Name, uid)
	return nil
}

// runSieve evaluates the user's active script. Any parse or evaluation
// failure degrades to a plain keep, mail must not bounce over a broken
// filter.
func (s *LMTPSession) runSieve(entity *message.Entity, raw []byte) sieveengine.Result {
	keep := sieveengine.Result{Action: sieveengine.ActionKeep}

	activeScript, err := s.backend.db.GetActiveScript(s.ctx, s.UserID())
	if err != nil {
		if !errors.Is(err, consts.ErrDBNotFound) {
			s.Log("[SIEVE] failed to load active script: %v", err)
		}
		return keep
	}

	script, err := sieveengine.NewScript(activeScript.Script)
	if err != nil {
		s.Log("[SIEVE] script %s does not parse: %v", activeScript.Name, err)
		return keep
	}

	var body string
	if plaintext, err := helpers.ExtractPlaintextBody(entity); err == nil && plaintext != nil {
		body = *plaintext
	}
	result, err := script.Evaluate(sieveengine.Context{
		EnvelopeFrom: s.sender.FullAddress(),
		EnvelopeTo:   s.User.Address.FullAddress(),
		Header:       entity.Header.Map(),
		Body:         body,
	})
	if err != nil {
		s.Log("[SIEVE] evaluation of %s failed: %v", activeScript.Name, err)
		return keep
	}
	s.Log("[SIEVE] script %s: %s", activeScript.Name, result.Action)
	return result
}

// sendVacationResponse builds and relays an auto-reply, respecting the
// per-sender response window (RFC 5230).
func (s *LMTPSession) sendVacationResponse(result sieveengine.Result, original *message.Entity) error {
	days := result.VacationDays
	if days <= 0 {
		days = 7
	}
	window := time.Duration(days) * 24 * time.Hour

	hasRecent, err := s.backend.db.HasRecentVacationResponse(s.ctx, s.UserID(), s.sender.FullAddress(), window)
	if err != nil {
		return fmt.Errorf("failed to check recent vacation responses: %w", err)
	}
	if hasRecent {
		s.Log("[SIEVE] vacation response to %s suppressed, one was sent recently", s.sender.FullAddress())
		return nil
	}

	from := result.VacationFrom
	if from == "" {
		from = s.User.Address.FullAddress()
	}
	subject := result.VacationSubj
	if subject == "" {
		subject = "Auto: Out of Office"
	}

	originalHeader := mail.Header{Header: original.Header}
	originalMessageID, _ := originalHeader.MessageID()

	var reply bytes.Buffer
	var h message.Header
	h.Set("From", from)
	h.Set("To", s.sender.FullAddress())
	h.Set("Subject", subject)
	h.Set("Message-ID", fmt.Sprintf("<%d.vacation@%s>", time.Now().UnixNano(), s.HostName))
	if originalMessageID != "" {
		h.Set("In-Reply-To", originalMessageID)
		h.Set("References", originalMessageID)
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("X-Auto-Response-Suppress", "All")
	h.Set("Date", time.Now().Format(time.RFC1123Z))

	w, err := message.CreateWriter(&reply, h)
	if err != nil {
		return fmt.Errorf("failed to create reply writer: %w", err)
	}
	var textHeader message.Header
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textWriter, err := w.CreatePart(textHeader)
	if err != nil {
		return fmt.Errorf("failed to create reply body: %w", err)
	}
	if _, err := textWriter.Write([]byte(result.VacationMsg)); err != nil {
		return fmt.Errorf("failed to write reply body: %w", err)
	}
	textWriter.Close()
	w.Close()

	if s.backend.externalRelay == "" {
		s.Log("[SIEVE] vacation response not sent, no external relay configured")
		return nil
	}
	if err := s.sendToExternalRelay(from, s.sender.FullAddress(), reply.Bytes()); err != nil {
		return err
	}
	return s.backend.db.RecordVacationResponse(s.ctx, s.UserID(), s.sender.FullAddress())
}

// sendToExternalRelay submits a message to the configured smarthost
// over implicit TLS.
func (s *LMTPSession) sendToExternalRelay(from, to string, raw []byte) error {
	if s.backend.externalRelay == "" {
		return fmt.Errorf("external relay not configured")
	}

	c, err := smtp.DialTLS(s.backend.externalRelay, &tls.Config{MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("failed to connect to external relay: %w", err)
	}
	defer c.Close()

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return c.Quit()
}

func (s *LMTPSession) Reset() {
	s.User = nil
	s.sender = nil
	s.Log("Reset")
}

func (s *LMTPSession) Logout() error {
	s.Log("Logout")
	if s.cancel != nil {
		s.cancel()
	}
	return &smtp.SMTPError{
		Code:         221,
		EnhancedCode: smtp.EnhancedCode{2, 0, 0},
		Message:      "Closing transmission channel",
	}
}

func (s *LMTPSession) internalError(format string, a ...interface{}) error {
	s.Log(format, a...)
	return &smtp.SMTPError{
		Code:         421,
		EnhancedCode: smtp.EnhancedCode{4, 4, 2},
		Message:      fmt.Sprintf(format, a...),
	}
}
