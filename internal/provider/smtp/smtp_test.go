package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailrelay/internal/email"
	mailtls "github.com/shineum/mailrelay/internal/tls"
)

type received struct {
	from string
	to   []string
	data string
	tls  bool
}

// upstream is an in-process SMTP server that records what it receives.
type upstream struct {
	user, pass string
	sessions   atomic.Int32

	mu   sync.Mutex
	msgs []received
}

func (u *upstream) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	u.sessions.Add(1)
	return &upstreamSession{u: u, conn: c}, nil
}

func (u *upstream) messages() []received {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]received(nil), u.msgs...)
}

type upstreamSession struct {
	u    *upstream
	conn *gosmtp.Conn
	from string
	to   []string
}

func (s *upstreamSession) AuthMechanisms() []string { return []string{sasl.Plain} }

func (s *upstreamSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.u.user || password != s.u.pass {
			return errors.New("invalid credentials")
		}
		return nil
	}), nil
}

func (s *upstreamSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *upstreamSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *upstreamSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.u.mu.Lock()
	_, secure := s.conn.TLS()
	s.u.msgs = append(s.u.msgs, received{from: s.from, to: s.to, data: string(data), tls: secure})
	s.u.mu.Unlock()
	return nil
}

func (s *upstreamSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *upstreamSession) Logout() error { return nil }

func startUpstream(t *testing.T) (*upstream, int) {
	t.Helper()
	return startUpstreamTLS(t, nil)
}

// startUpstreamTLS starts an upstream that offers STARTTLS when tlsConfig is
// set.
func startUpstreamTLS(t *testing.T, tlsConfig *tls.Config) (*upstream, int) {
	t.Helper()

	u := &upstream{user: "relay", pass: "secret"}
	srv := gosmtp.NewServer(u)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.TLSConfig = tlsConfig

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return u, l.Addr().(*net.TCPAddr).Port
}

func testConfig(port int) Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "relay",
		Password: "secret",
		From:     "Relay <relay@example.com>",
	}
}

func TestSend_DeliversToUpstream(t *testing.T) {
	t.Parallel()

	u, port := startUpstream(t)
	p := New(testConfig(port))

	res := p.Send(context.Background(), &email.Message{
		To:      email.Addresses("alice@example.com"),
		Cc:      email.Addresses("carol@example.com"),
		Bcc:     email.Addresses("hidden@example.com"),
		Subject: "Hello over SMTP",
		Text:    "plain body",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "smtp", res.Provider)
	assert.NotEmpty(t, res.MessageID)

	msgs := u.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "relay@example.com", msgs[0].from)
	assert.Equal(t, []string{"alice@example.com", "carol@example.com", "hidden@example.com"}, msgs[0].to)
	assert.Contains(t, msgs[0].data, "Subject: Hello over SMTP")
	assert.Contains(t, msgs[0].data, "<"+res.MessageID+">")
	assert.NotContains(t, msgs[0].data, "hidden@example.com")
}

func TestSend_UpgradesWithStartTLS(t *testing.T) {
	t.Parallel()

	cert, err := mailtls.GenerateSelfSignedCert("localhost", "127.0.0.1")
	require.NoError(t, err)
	u, port := startUpstreamTLS(t, &tls.Config{Certificates: []tls.Certificate{*cert}})

	cfg := testConfig(port)
	cfg.InsecureSkipVerify = true
	p := New(cfg)

	res := p.Send(context.Background(), &email.Message{
		To:      email.Addresses("alice@example.com"),
		Subject: "Over TLS",
		Text:    "secret body",
	})
	require.True(t, res.Success, res.Error)

	msgs := u.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].tls, "message was sent after STARTTLS")
}

func TestSend_PlaintextWhenStartTLSNotOffered(t *testing.T) {
	t.Parallel()

	u, port := startUpstream(t)
	p := New(testConfig(port))

	res := p.Send(context.Background(), &email.Message{
		To:      email.Addresses("alice@example.com"),
		Subject: "No TLS upstream",
		Text:    "body",
	})
	require.True(t, res.Success, res.Error)

	msgs := u.messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].tls)
}

func TestSend_StartTLSHandshakeFailure(t *testing.T) {
	t.Parallel()

	cert, err := mailtls.GenerateSelfSignedCert("localhost")
	require.NoError(t, err)
	u, port := startUpstreamTLS(t, &tls.Config{Certificates: []tls.Certificate{*cert}})

	// Certificate verification is on, so the self-signed cert is rejected
	// and the message must not fall back to plaintext.
	p := New(testConfig(port))

	res := p.Send(context.Background(), &email.Message{
		To:      email.Addresses("alice@example.com"),
		Subject: "x",
		Text:    "y",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "starttls")
	assert.Empty(t, u.messages())
}

func TestStartTLSUnsupported(t *testing.T) {
	t.Parallel()

	assert.True(t, startTLSUnsupported(errors.New("smtp: server doesn't support STARTTLS")))
	assert.True(t, startTLSUnsupported(&gosmtp.SMTPError{Code: 502, Message: "command not implemented"}))
	assert.False(t, startTLSUnsupported(&gosmtp.SMTPError{Code: 454, Message: "TLS not available"}))
	assert.False(t, startTLSUnsupported(errors.New("tls: handshake failure")))
}

func TestSend_AuthFailure(t *testing.T) {
	t.Parallel()

	u, port := startUpstream(t)
	cfg := testConfig(port)
	cfg.Password = "wrong"
	p := New(cfg)

	res := p.Send(context.Background(), &email.Message{
		To:      email.Addresses("alice@example.com"),
		Subject: "x",
		Text:    "y",
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "smtp auth")
	assert.Empty(t, u.messages())
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	_, port := startUpstream(t)
	p := New(testConfig(port))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Send(ctx, &email.Message{To: email.Addresses("a@example.com"), Subject: "x"})
	assert.False(t, res.Success)
}

func TestIsAvailable_CachesVerify(t *testing.T) {
	t.Parallel()

	u, port := startUpstream(t)
	p := New(testConfig(port))

	assert.True(t, p.IsAvailable(context.Background()))
	assert.True(t, p.IsAvailable(context.Background()))
	assert.Equal(t, int32(1), u.sessions.Load(), "second check must reuse the cached result")
}

func TestIsAvailable_Unreachable(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	p := New(testConfig(port))
	assert.False(t, p.IsAvailable(context.Background()))
}

func TestIsAvailable_NotConfigured(t *testing.T) {
	t.Parallel()

	assert.False(t, New(Config{}).IsAvailable(context.Background()))
	assert.False(t, New(Config{Host: "smtp.example.com"}).IsAvailable(context.Background()))
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.Equal(t, "smtp", p.Name())
	assert.Equal(t, DefaultPriority, p.Priority())
}

func TestGmailConfig(t *testing.T) {
	t.Parallel()

	cfg := GmailConfig("me@gmail.com", "app-pass")
	assert.Equal(t, "smtp.gmail.com:465", cfg.addr())
	assert.True(t, cfg.Secure)
	assert.Equal(t, "me@gmail.com", cfg.From)
}

func TestConfigAddrDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mail.example.com:587", Config{Host: "mail.example.com"}.addr())
	assert.Equal(t, "mail.example.com:465", Config{Host: "mail.example.com", Secure: true}.addr())
	assert.Equal(t, "mail.example.com:2525", Config{Host: "mail.example.com", Port: 2525}.addr())
}
