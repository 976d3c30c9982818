// Package smtp implements a Provider that relays messages to an upstream SMTP
// server, including a preset for Gmail.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/time/rate"

	"github.com/shineum/mailrelay/internal/composer"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "smtp"

// DefaultPriority places SMTP after the API providers.
const DefaultPriority = 3

// DefaultVerifyInterval bounds how often IsAvailable dials the server.
const DefaultVerifyInterval = time.Minute

// Config holds the settings for a Provider.
type Config struct {
	Host     string
	Port     int
	// Secure selects implicit TLS. Otherwise STARTTLS is used when offered.
	Secure             bool
	Username           string
	Password           string
	From               string
	Priority           int
	InsecureSkipVerify bool
	VerifyInterval     time.Duration
}

// GmailConfig returns a Config for Gmail's SMTP relay with an app password.
func GmailConfig(user, password string) Config {
	return Config{
		Host:     "smtp.gmail.com",
		Port:     465,
		Secure:   true,
		Username: user,
		Password: password,
		From:     user,
	}
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
		if c.Secure {
			port = 465
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Provider delivers messages over SMTP, one connection per message.
type Provider struct {
	cfg    Config
	sender email.Address
	tls    *tls.Config

	mu       sync.Mutex
	limiter  *rate.Limiter
	verified bool
	healthy  bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider. No connection is made until the first
// IsAvailable or Send call.
func New(cfg Config) *Provider {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = DefaultVerifyInterval
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Provider{
		cfg:    cfg,
		sender: email.ParseAddress(from),
		tls: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.VerifyInterval), 1),
	}
}

// Name returns "smtp".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// IsAvailable reports whether a host is configured and the server accepted
// a connection and login. The result of a check is reused until the verify
// interval has passed.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if p.cfg.Host == "" || p.sender.Address == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verified && !p.limiter.Allow() {
		return p.healthy
	}
	if !p.verified {
		// Consume the initial token so the next check waits a full interval.
		p.limiter.Allow()
	}

	err := p.verify(ctx)
	if err != nil {
		slog.Warn("SMTP verify failed", "host", p.cfg.Host, "error", err)
	}
	p.verified = true
	p.healthy = err == nil
	return p.healthy
}

func (p *Provider) verify(ctx context.Context) error {
	c, release, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	return c.Quit()
}

// Send composes msg as MIME and submits it to the upstream server.
func (p *Provider) Send(ctx context.Context, msg *email.Message) email.Result {
	if p.cfg.Host == "" {
		return email.Failed(Name, errors.New("smtp: host not configured"))
	}

	from := provider.Sender(msg, p.sender)
	raw, messageID, err := composer.Compose(from, msg)
	if err != nil {
		return email.Failed(Name, err)
	}

	c, release, err := p.connect(ctx)
	if err != nil {
		return email.Failed(Name, err)
	}
	defer release()

	if err := c.SendMail(from.Address, msg.Recipients(), bytes.NewReader(raw)); err != nil {
		return email.Failed(Name, fmt.Errorf("smtp send failed: %w", err))
	}
	if err := c.Quit(); err != nil {
		slog.Debug("SMTP quit failed after delivery", "error", err)
	}

	return email.Succeeded(Name, messageID)
}

// connect dials the server, upgrades to TLS when possible and authenticates.
// The connection is closed if ctx ends while it is in use. Callers must call
// release when done.
func (p *Provider) connect(ctx context.Context) (*gosmtp.Client, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	c, stop, err := p.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		stop()
		c.Close()
	}

	if p.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			release()
			return nil, nil, fmt.Errorf("smtp auth: %w", err)
		}
	}

	return c, release, nil
}

// dial opens the session. With Secure the connection uses implicit TLS.
// Otherwise STARTTLS is negotiated, and a server that does not offer it is
// dialled again in plaintext.
func (p *Provider) dial(ctx context.Context) (*gosmtp.Client, func() bool, error) {
	addr := p.cfg.addr()

	if p.cfg.Secure {
		d := &tls.Dialer{Config: p.tls}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		return gosmtp.NewClient(conn), stop, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, err := gosmtp.NewClientStartTLS(conn, p.tls)
	if err == nil {
		return c, stop, nil
	}
	stop()
	conn.Close()
	if !startTLSUnsupported(err) {
		return nil, nil, fmt.Errorf("smtp starttls: %w", err)
	}

	conn, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	stop = context.AfterFunc(ctx, func() { conn.Close() })
	return gosmtp.NewClient(conn), stop, nil
}

// startTLSUnsupported reports whether err means the server has no STARTTLS,
// as opposed to a failed handshake.
func startTLSUnsupported(err error) bool {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 500, 502, 504:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "support STARTTLS")
}
