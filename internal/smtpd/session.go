package smtpd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/parser"
)

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errParseFailed = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "Failed to process message",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, please try again later",
	}
)

// backend creates one session per connection.
type backend struct {
	ctx    context.Context
	sender Sender
	auth   *Authenticator
	logger *slog.Logger
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if nc := c.Conn(); nc != nil {
		remote = nc.RemoteAddr().String()
	}
	return &session{
		backend: b,
		logger:  b.logger.With("remote", remote),
	}, nil
}

// session holds one SMTP transaction. go-smtp serializes calls per
// connection.
type session struct {
	*backend
	logger *slog.Logger

	user     string
	mailFrom string
	rcptTo   []string
}

var _ gosmtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if !s.auth.Enabled() {
		return nil
	}
	return s.auth.Mechanisms()
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return s.auth.Server(mech, func(username string) {
		s.user = username
		s.logger.Debug("smtp client authenticated", "user", username)
	})
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.auth.Enabled() && s.user == "" {
		return errAuthRequired
	}
	s.mailFrom = from
	s.rcptTo = nil
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.auth.Enabled() && s.user == "" {
		return errAuthRequired
	}
	s.rcptTo = append(s.rcptTo, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		s.logger.Error("failed to parse message", "error", err)
		return errParseFailed
	}
	applyEnvelope(msg, s.mailFrom, s.rcptTo)

	// In-flight deliveries finish even when shutdown has begun.
	res, err := s.sender.Send(context.WithoutCancel(s.ctx), msg)
	if err != nil {
		if errors.Is(err, email.ErrInvalidMessage) {
			return &gosmtp.SMTPError{
				Code:         554,
				EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
				Message:      "Message rejected: " + oneLine(err.Error()),
			}
		}
		s.logger.Error("ingress send failed", "error", err)
		return errTemporary
	}

	s.logger.Info("ingress message accepted",
		"from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"success", res.Success,
		"provider", res.Provider,
	)
	return nil
}

func (s *session) Reset() {
	s.mailFrom = ""
	s.rcptTo = nil
}

func (s *session) Logout() error {
	return nil
}

// applyEnvelope makes the SMTP envelope authoritative: the envelope sender
// fills a missing From and envelope recipients absent from the To and Cc
// headers become Bcc.
func applyEnvelope(msg *email.Message, mailFrom string, rcptTo []string) {
	if msg.From == nil && mailFrom != "" {
		from := email.ParseAddress(mailFrom)
		msg.From = &from
	}
	if len(msg.To) == 0 {
		msg.To = email.Addresses(rcptTo...)
		return
	}

	visible := make(map[string]bool, len(msg.To)+len(msg.Cc))
	for _, a := range append(msg.To.Emails(), msg.Cc.Emails()...) {
		visible[strings.ToLower(a)] = true
	}
	seen := make(map[string]bool, len(msg.Bcc))
	for _, a := range msg.Bcc.Emails() {
		seen[strings.ToLower(a)] = true
	}
	for _, rcpt := range rcptTo {
		key := strings.ToLower(rcpt)
		if visible[key] || seen[key] {
			continue
		}
		seen[key] = true
		msg.Bcc = append(msg.Bcc, email.Address{Address: rcpt})
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// oneLine keeps SMTP replies on a single line.
func oneLine(s string) string {
	return lineBreaks.Replace(s)
}
