package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-smtp"

	"github.com/shineum/smtp-slack-relay/internal/relay"
)

// Handler processes one complete inbound message.
type Handler interface {
	HandleInbound(ctx context.Context, raw io.Reader, tx relay.Transaction) relay.Result
}

// backend implements smtp.Backend. Sessions never implement
// smtp.AuthSession, so AUTH is neither advertised nor accepted.
type backend struct {
	ctx       context.Context
	handler   Handler
	allowlist *Allowlist
}

// NewSession is called once the client greets with HELO or EHLO.
func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := c.Conn().RemoteAddr()
	if !b.allowlist.Allows(remote) {
		slog.Warn("rejected client outside allowed networks", "remote_addr", remote.String())
		return nil, &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Access denied",
		}
	}

	slog.Debug("new session", "remote_addr", remote.String(), "helo", c.Hostname())
	return &session{
		ctx:        b.ctx,
		handler:    b.handler,
		remoteAddr: remote.String(),
	}, nil
}

// session holds the state of one SMTP transaction.
type session struct {
	ctx        context.Context
	handler    Handler
	remoteAddr string

	mailFrom string
	rcptTo   []string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.mailFrom = from
	s.rcptTo = nil
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.rcptTo = append(s.rcptTo, to)
	return nil
}

// Data buffers the message and relays it. The reply tells the client
// whether the message was delivered, rejected or should be retried.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, smtp.ErrDataTooLarge) {
			slog.Warn("message too large", "remote_addr", s.remoteAddr, "mail_from", s.mailFrom)
			return smtp.ErrDataTooLarge
		}
		return fmt.Errorf("failed to read message data: %w", err)
	}

	res := s.handler.HandleInbound(s.ctx, bytes.NewReader(raw), relay.Transaction{
		MailFrom:   s.mailFrom,
		RcptTo:     s.rcptTo,
		RemoteAddr: s.remoteAddr,
	})
	return replyFor(res)
}

func (s *session) Reset() {
	s.mailFrom = ""
	s.rcptTo = nil
}

func (s *session) Logout() error {
	return nil
}

// replyFor maps a relay result to the SMTP reply for the DATA command.
// A nil return makes go-smtp answer 250.
func replyFor(res relay.Result) error {
	if res.Err == nil {
		return nil
	}

	var perr *relay.ParseError
	if errors.As(res.Err, &perr) {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}

	var derr *relay.DeliveryError
	if errors.As(res.Err, &derr) && derr.Timeout() {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 4, 1},
			Message:      "Delivery timed out, try again later",
		}
	}

	return &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, try again later",
	}
}
