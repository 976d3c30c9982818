package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailrelay/internal/cache"
	"github.com/shineum/mailrelay/internal/config"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/mailer"
	"github.com/shineum/mailrelay/internal/metrics"
	"github.com/shineum/mailrelay/internal/provider"
	"github.com/shineum/mailrelay/internal/provider/graph"
	"github.com/shineum/mailrelay/internal/provider/postmark"
	"github.com/shineum/mailrelay/internal/provider/sendgrid"
	"github.com/shineum/mailrelay/internal/provider/ses"
	"github.com/shineum/mailrelay/internal/provider/smtp"
	"github.com/shineum/mailrelay/internal/provider/stdout"
	"github.com/shineum/mailrelay/internal/templates"
)

// loadConfig loads configuration from path (YAML + env override), or from
// the environment only when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// buildProviders creates an adapter for every configured provider. The
// stdout provider is added when enabled explicitly or when nothing else is
// configured.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]provider.Provider, error) {
	var providers []provider.Provider

	if cfg.SendGridConfigured() {
		providers = append(providers, sendgrid.New(sendgrid.Config{
			APIKey:   cfg.SendGrid.APIKey,
			From:     cfg.SenderFor(cfg.SendGrid.From),
			Priority: cfg.SendGrid.Priority,
		}))
	}

	if cfg.SESConfigured() {
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SenderFor(cfg.SES.Sender),
			ConfigurationSet: cfg.SES.ConfigurationSet,
			Priority:         cfg.SES.Priority,
		})
		if err != nil {
			return nil, fmt.Errorf("create SES provider: %w", err)
		}
		providers = append(providers, p)
	}

	if cfg.SMTPConfigured() {
		providers = append(providers, smtp.New(smtpConfig(cfg)))
	}

	if cfg.PostmarkConfigured() {
		providers = append(providers, postmark.New(postmark.Config{
			ServerToken:   cfg.Postmark.ServerToken,
			AccountToken:  cfg.Postmark.AccountToken,
			From:          cfg.SenderFor(cfg.Postmark.From),
			MessageStream: cfg.Postmark.MessageStream,
			Priority:      cfg.Postmark.Priority,
		}))
	}

	if cfg.GraphConfigured() {
		providers = append(providers, graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			Priority:     cfg.Graph.Priority,
		}))
	}

	if cfg.Stdout.Enabled || len(providers) == 0 {
		if len(providers) == 0 {
			logger.Warn("no email provider configured, messages will be printed to stdout")
		}
		providers = append(providers, stdout.New(cfg.App.From, cfg.Stdout.Priority))
	}

	for _, p := range provider.Sort(providers) {
		logger.Info("email provider registered", "provider", p.Name(), "priority", p.Priority())
	}
	return providers, nil
}

// smtpConfig prefers an explicit SMTP host over the Gmail preset.
func smtpConfig(cfg *config.Config) smtp.Config {
	if cfg.SMTP.Host == "" {
		gmail := smtp.GmailConfig(cfg.Gmail.User, cfg.Gmail.Password)
		gmail.Priority = cfg.SMTP.Priority
		return gmail
	}
	return smtp.Config{
		Host:               cfg.SMTP.Host,
		Port:               cfg.SMTP.Port,
		Secure:             cfg.SMTP.Secure,
		Username:           cfg.SMTP.Username,
		Password:           cfg.SMTP.Password,
		From:               cfg.SenderFor(cfg.SMTP.From),
		Priority:           cfg.SMTP.Priority,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}
}

func branding(cfg *config.Config) templates.Branding {
	return templates.Branding{
		CompanyName:  cfg.App.CompanyName,
		SupportEmail: cfg.App.SupportEmail,
		AppURL:       cfg.App.URL,
	}
}

func mailerConfig(cfg *config.Config) mailer.Config {
	mc := mailer.DefaultConfig()
	if cfg.App.From != "" {
		mc.From = email.ParseAddress(cfg.App.From)
	}
	mc.AppURL = cfg.App.URL
	mc.Branding = branding(cfg)
	mc.RetryInterval = cfg.Delivery.RetryInterval
	mc.MaxRetries = cfg.Delivery.MaxRetries
	mc.BulkBatchSize = cfg.Delivery.BulkBatchSize
	mc.BulkBatchDelay = cfg.Delivery.BulkBatchDelay
	mc.ProviderTimeout = cfg.Delivery.ProviderTimeout
	mc.DispatchInterval = cfg.Delivery.DispatchInterval
	return mc
}

func cacheConfig(cfg *config.Config) cache.Config {
	cc := cache.DefaultConfig()
	cc.Type = cfg.Cache.Type
	cc.URL = cfg.Cache.URL
	cc.Prefix = cfg.Cache.Prefix
	if cfg.Cache.DefaultTTL > 0 {
		cc.DefaultTTL = cfg.Cache.DefaultTTL
	}
	return cc
}

// newService wires the cache, the providers and the mailer. The returned
// cache must be closed by the caller after the service.
func newService(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*mailer.Service, cache.Cache, error) {
	c, err := cache.New(cacheConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("create cache: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("cache unreachable: %w", err)
	}

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	svc, err := mailer.New(mailerConfig(cfg), providers, c,
		mailer.WithLogger(logger),
		mailer.WithMetrics(m),
	)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return svc, c, nil
}
