// Package sendgrid implements a Provider backed by the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shineum/mailrelay/internal/composer"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "sendgrid"

// DefaultPriority makes SendGrid the first provider tried.
const DefaultPriority = 1

// Config holds the settings for a Provider.
type Config struct {
	APIKey   string
	From     string
	Priority int
}

// SendAPI is the subset of the SendGrid client used by the provider.
type SendAPI interface {
	SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error)
}

// Provider sends email through SendGrid.
type Provider struct {
	cfg    Config
	sender email.Address
	client SendAPI
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider using the official SendGrid client.
func New(cfg Config) *Provider {
	return NewWithClient(cfg, sg.NewSendClient(cfg.APIKey))
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(cfg Config, client SendAPI) *Provider {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	return &Provider{
		cfg:    cfg,
		sender: email.ParseAddress(cfg.From),
		client: client,
	}
}

// Name returns "sendgrid".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// IsAvailable reports whether an API key and a from address are configured.
func (p *Provider) IsAvailable(context.Context) bool {
	return p.client != nil && p.cfg.APIKey != "" && p.cfg.From != ""
}

// Send delivers msg. Any response status of 300 or above is a failure.
func (p *Provider) Send(ctx context.Context, msg *email.Message) email.Result {
	if !p.IsAvailable(ctx) {
		return email.Failed(Name, errors.New("sendgrid: api key or from address not configured"))
	}

	resp, err := p.client.SendWithContext(ctx, buildMail(provider.Sender(msg, p.sender), msg))
	if err != nil {
		return email.Failed(Name, fmt.Errorf("sendgrid request failed: %w", err))
	}
	if resp.StatusCode >= 300 {
		return email.Failed(Name, fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body)))
	}

	return email.Succeeded(Name, messageID(resp))
}

func buildMail(from email.Address, msg *email.Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(from.Name, from.Address))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(sgEmails(msg.To)...)
	if len(msg.Cc) > 0 {
		p.AddCCs(sgEmails(msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		p.AddBCCs(sgEmails(msg.Bcc)...)
	}
	m.AddPersonalizations(p)

	// SendGrid requires text/plain to precede text/html.
	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	if msg.ReplyTo != nil {
		m.SetReplyTo(mail.NewEmail(msg.ReplyTo.Name, msg.ReplyTo.Address))
	}

	for _, att := range msg.Attachments {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.MediaType())
		a.SetFilename(att.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	ts := mail.NewTrackingSettings()
	ts.SetOpenTracking(mail.NewOpenTrackingSetting().SetEnable(msg.OpensTracked()))
	ts.SetClickTracking(mail.NewClickTrackingSetting().SetEnable(msg.ClicksTracked()))
	m.SetTrackingSettings(ts)

	if len(msg.Tags) > 0 {
		m.AddCategories(msg.Tags...)
	}

	for _, h := range msg.CustomHeaders() {
		m.SetHeader(h.Name, h.Value)
	}
	if v := composer.PriorityHeader(msg.EffectivePriority()); v != "" {
		m.SetHeader("X-Priority", v)
	}

	return m
}

func sgEmails(list email.AddressList) []*mail.Email {
	out := make([]*mail.Email, 0, len(list))
	for _, a := range list {
		out = append(out, mail.NewEmail(a.Name, a.Address))
	}
	return out
}

func messageID(resp *rest.Response) string {
	for k, v := range resp.Headers {
		if strings.EqualFold(k, "X-Message-Id") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
