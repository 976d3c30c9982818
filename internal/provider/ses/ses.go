// Package ses implements a Provider that sends email through the AWS SES v2
// API.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailrelay/internal/composer"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "ses"

// DefaultPriority places SES after SendGrid.
const DefaultPriority = 2

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
)

var errNotConfigured = errors.New("ses: region or sender not configured")

// Config holds the settings for a Provider.
type Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	Sender           string
	ConfigurationSet string
	Priority         int
}

// SendEmailAPI is the subset of the SES v2 client used by the provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends email via AWS SES v2.
type Provider struct {
	cfg        Config
	sender     email.Address
	client     SendEmailAPI
	maxRetries int
	retryDelay time.Duration
}

var _ provider.Provider = (*Provider)(nil)

// New loads AWS configuration for cfg.Region. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(cfg Config, client SendEmailAPI) *Provider {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	return &Provider{
		cfg:        cfg,
		sender:     email.ParseAddress(cfg.Sender),
		client:     client,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Name returns "ses".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// IsAvailable reports whether a region, a sender and a client are present.
func (p *Provider) IsAvailable(context.Context) bool {
	return p.client != nil && p.cfg.Region != "" && p.cfg.Sender != ""
}

// Send delivers msg. Messages with attachments are submitted as raw MIME,
// everything else uses SES simple content. Transient API errors are retried
// with exponential backoff before giving up.
func (p *Provider) Send(ctx context.Context, msg *email.Message) email.Result {
	if !p.IsAvailable(ctx) {
		return email.Failed(Name, errNotConfigured)
	}

	input, err := p.buildInput(msg)
	if err != nil {
		return email.Failed(Name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", p.maxRetries,
			)
			if err := sleepWithContext(ctx, backoffDelay(p.retryDelay, attempt)); err != nil {
				return email.Failed(Name, fmt.Errorf("context cancelled during retry wait: %w", err))
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			return email.Succeeded(Name, aws.ToString(out.MessageId))
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}

	return email.Failed(Name, fmt.Errorf("SES API request failed after %d retries: %w", p.maxRetries, lastErr))
}

func (p *Provider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	from := provider.Sender(msg, p.sender)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from.String()),
		EmailTags:        messageTags(msg.Tags),
	}
	if p.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(p.cfg.ConfigurationSet)
	}

	if len(msg.Attachments) > 0 {
		raw, _, err := composer.Compose(from, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input.Destination = &types.Destination{
			ToAddresses:  msg.To.Emails(),
			CcAddresses:  msg.Cc.Emails(),
			BccAddresses: msg.Bcc.Emails(),
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
		return input, nil
	}

	input.Destination = &types.Destination{
		ToAddresses:  msg.To.Strings(),
		CcAddresses:  msg.Cc.Strings(),
		BccAddresses: msg.Bcc.Strings(),
	}
	if msg.ReplyTo != nil {
		input.ReplyToAddresses = []string{msg.ReplyTo.String()}
	}
	input.Content = &types.EmailContent{Simple: buildSimpleMessage(msg)}
	return input, nil
}

func buildSimpleMessage(msg *email.Message) *types.Message {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.Text != "" {
		body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	out := &types.Message{
		Subject: &types.Content{
			Data:    aws.String(msg.Subject),
			Charset: aws.String("UTF-8"),
		},
		Body: body,
	}

	for _, h := range msg.CustomHeaders() {
		out.Headers = append(out.Headers, types.MessageHeader{
			Name:  aws.String(h.Name),
			Value: aws.String(h.Value),
		})
	}
	if v := composer.PriorityHeader(msg.EffectivePriority()); v != "" {
		out.Headers = append(out.Headers, types.MessageHeader{
			Name:  aws.String("X-Priority"),
			Value: aws.String(v),
		})
	}
	return out
}

var invalidTagChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// messageTags maps free-form tags onto SES message tags. SES only accepts
// alphanumerics, '_' and '-' in tag names and values.
func messageTags(tags []string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags))
	for _, t := range tags {
		name := invalidTagChars.ReplaceAllString(t, "_")
		if name == "" {
			continue
		}
		out = append(out, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String("true"),
		})
	}
	return out
}

// backoffDelay returns base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
