// Package postmark implements a Provider backed by the Postmark
// transactional email API.
package postmark

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/shineum/mailrelay/internal/composer"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "postmark"

// DefaultPriority places Postmark after SMTP.
const DefaultPriority = 4

// Config holds the settings for a Provider.
type Config struct {
	ServerToken   string
	AccountToken  string
	From          string
	MessageStream string
	Priority      int
}

// SendEmailAPI is the subset of the Postmark client used by the provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, e postmark.Email) (postmark.EmailResponse, error)
}

// Provider sends email through Postmark.
type Provider struct {
	cfg    Config
	sender email.Address
	client SendEmailAPI
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider using the Postmark API client.
func New(cfg Config) *Provider {
	return NewWithClient(cfg, postmark.NewClient(cfg.ServerToken, cfg.AccountToken))
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(cfg Config, client SendEmailAPI) *Provider {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	return &Provider{
		cfg:    cfg,
		sender: email.ParseAddress(cfg.From),
		client: client,
	}
}

// Name returns "postmark".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// IsAvailable reports whether a server token and a sender are configured.
func (p *Provider) IsAvailable(context.Context) bool {
	return p.client != nil && p.cfg.ServerToken != "" && p.cfg.From != ""
}

// Send delivers msg. A non-zero Postmark ErrorCode is a failure.
func (p *Provider) Send(ctx context.Context, msg *email.Message) email.Result {
	if !p.IsAvailable(ctx) {
		return email.Failed(Name, errors.New("postmark: server token or sender not configured"))
	}

	resp, err := p.client.SendEmail(ctx, p.buildEmail(msg))
	if err != nil {
		return email.Failed(Name, fmt.Errorf("postmark request failed: %w", err))
	}
	if resp.ErrorCode > 0 {
		return email.Failed(Name, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return email.Succeeded(Name, resp.MessageID)
}

func (p *Provider) buildEmail(msg *email.Message) postmark.Email {
	out := postmark.Email{
		From:          provider.Sender(msg, p.sender).String(),
		To:            strings.Join(msg.To.Strings(), ", "),
		Cc:            strings.Join(msg.Cc.Strings(), ", "),
		Bcc:           strings.Join(msg.Bcc.Strings(), ", "),
		Subject:       msg.Subject,
		HTMLBody:      msg.HTML,
		TextBody:      msg.Text,
		TrackOpens:    msg.OpensTracked(),
		MessageStream: p.cfg.MessageStream,
	}
	if msg.ReplyTo != nil {
		out.ReplyTo = msg.ReplyTo.String()
	}
	if msg.ClicksTracked() {
		out.TrackLinks = "HtmlOnly"
	}
	// Postmark accepts a single tag per message.
	if len(msg.Tags) > 0 {
		out.Tag = msg.Tags[0]
	}

	for _, h := range msg.CustomHeaders() {
		out.Headers = append(out.Headers, postmark.Header{Name: h.Name, Value: h.Value})
	}
	if v := composer.PriorityHeader(msg.EffectivePriority()); v != "" {
		out.Headers = append(out.Headers, postmark.Header{Name: "X-Priority", Value: v})
	}

	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, postmark.Attachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.MediaType(),
		})
	}
	return out
}
