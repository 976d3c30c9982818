// Package config loads the service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then a .env file, then
// environment variables. Only non-empty environment variables override.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	SES      SESConfig      `yaml:"ses"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Gmail    GmailConfig    `yaml:"gmail"`
	Postmark PostmarkConfig `yaml:"postmark"`
	Graph    GraphConfig    `yaml:"graph"`
	Stdout   StdoutConfig   `yaml:"stdout"`
	Cache    CacheConfig    `yaml:"cache"`
	Delivery DeliveryConfig `yaml:"delivery"`
	HTTP     HTTPConfig     `yaml:"http"`
	Ingress  IngressConfig  `yaml:"ingress"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds branding and link settings.
type AppConfig struct {
	URL          string `yaml:"url" env:"APP_URL"`
	From         string `yaml:"from" env:"EMAIL_FROM"`
	CompanyName  string `yaml:"company_name" env:"COMPANY_NAME"`
	SupportEmail string `yaml:"support_email" env:"SUPPORT_EMAIL"`
}

type SendGridConfig struct {
	APIKey   string `yaml:"api_key" env:"SENDGRID_API_KEY"`
	From     string `yaml:"from" env:"SENDGRID_FROM_EMAIL"`
	Priority int    `yaml:"priority" env:"SENDGRID_PRIORITY"`
}

type SESConfig struct {
	Region           string `yaml:"region" env:"AWS_SES_REGION"`
	AccessKeyID      string `yaml:"access_key_id" env:"AWS_SES_ACCESS_KEY"`
	SecretAccessKey  string `yaml:"secret_access_key" env:"AWS_SES_SECRET_KEY"`
	Sender           string `yaml:"sender" env:"AWS_SES_FROM_EMAIL"`
	ConfigurationSet string `yaml:"configuration_set" env:"AWS_SES_CONFIGURATION_SET"`
	Priority         int    `yaml:"priority" env:"AWS_SES_PRIORITY"`
}

// SMTPConfig is the outbound SMTP relay.
type SMTPConfig struct {
	Host               string `yaml:"host" env:"SMTP_HOST"`
	Port               int    `yaml:"port" env:"SMTP_PORT"`
	Secure             bool   `yaml:"secure" env:"SMTP_SECURE"`
	Username           string `yaml:"username" env:"SMTP_USER"`
	Password           string `yaml:"password" env:"SMTP_PASS"`
	From               string `yaml:"from" env:"SMTP_FROM_EMAIL"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"SMTP_INSECURE_SKIP_VERIFY"`
	Priority           int    `yaml:"priority" env:"SMTP_PRIORITY"`
}

// GmailConfig selects the Gmail SMTP preset when no SMTP host is set.
type GmailConfig struct {
	User     string `yaml:"user" env:"GMAIL_USER"`
	Password string `yaml:"password" env:"GMAIL_PASS"`
}

type PostmarkConfig struct {
	ServerToken   string `yaml:"server_token" env:"POSTMARK_SERVER_TOKEN"`
	AccountToken  string `yaml:"account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	From          string `yaml:"from" env:"POSTMARK_FROM_EMAIL"`
	MessageStream string `yaml:"message_stream" env:"POSTMARK_MESSAGE_STREAM"`
	Priority      int    `yaml:"priority" env:"POSTMARK_PRIORITY"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" env:"GRAPH_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"GRAPH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GRAPH_CLIENT_SECRET"`
	Sender       string `yaml:"sender" env:"GRAPH_SENDER"`
	Priority     int    `yaml:"priority" env:"GRAPH_PRIORITY"`
}

// StdoutConfig enables the development provider that prints messages.
type StdoutConfig struct {
	Enabled  bool `yaml:"enabled" env:"STDOUT_PROVIDER"`
	Priority int  `yaml:"priority" env:"STDOUT_PRIORITY"`
}

type CacheConfig struct {
	Type       string        `yaml:"type" env:"CACHE_TYPE"`
	URL        string        `yaml:"url" env:"REDIS_URL"`
	Prefix     string        `yaml:"prefix" env:"CACHE_PREFIX"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
}

// DeliveryConfig tunes the mailer.
type DeliveryConfig struct {
	RetryInterval    time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
	BulkBatchSize    int           `yaml:"bulk_batch_size" env:"BULK_BATCH_SIZE"`
	BulkBatchDelay   time.Duration `yaml:"bulk_batch_delay" env:"BULK_BATCH_DELAY"`
	ProviderTimeout  time.Duration `yaml:"provider_timeout" env:"PROVIDER_TIMEOUT"`
	DispatchInterval time.Duration `yaml:"dispatch_interval" env:"DISPATCH_INTERVAL"`
}

type HTTPConfig struct {
	Listen         string `yaml:"listen" env:"HTTP_LISTEN"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// IngressConfig holds the SMTP submission server configuration. An empty
// Listen disables it.
type IngressConfig struct {
	Listen         string `yaml:"listen" env:"INGRESS_SMTP_LISTEN"`
	Domain         string `yaml:"domain" env:"INGRESS_SMTP_DOMAIN"`
	Username       string `yaml:"username" env:"INGRESS_SMTP_USERNAME"`
	Password       string `yaml:"password" env:"INGRESS_SMTP_PASSWORD"`
	MaxMessageSize int64  `yaml:"max_message_size" env:"INGRESS_SMTP_MAX_MESSAGE_SIZE"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load loads configuration from the environment (and a .env file in the
// working directory, when present) on top of the defaults.
func Load() (*Config, error) {
	return load(nil)
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(data)
}

func load(yamlData []byte) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if yamlData != nil {
		if err := yaml.Unmarshal(yamlData, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.App.URL = "http://localhost:3000"
	c.App.CompanyName = "mailrelay"

	c.SendGrid.Priority = 1
	c.SES.Priority = 2
	c.SMTP.Priority = 3
	c.Postmark.Priority = 4
	c.Graph.Priority = 5
	c.Stdout.Priority = 100

	c.Cache.Type = "memory"
	c.Cache.DefaultTTL = 24 * time.Hour

	c.Delivery.RetryInterval = 5 * time.Second
	c.Delivery.MaxRetries = 3
	c.Delivery.BulkBatchSize = 50
	c.Delivery.BulkBatchDelay = time.Second
	c.Delivery.ProviderTimeout = 30 * time.Second
	c.Delivery.DispatchInterval = 30 * time.Second

	c.HTTP.Listen = ":8080"
	c.HTTP.MetricsEnabled = true

	c.Ingress.Domain = "localhost"
	c.Ingress.MaxMessageSize = defaultMaxMessageSize

	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

func (c *Config) normalize() {
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// Validate reports every invalid setting, joined, each wrapping
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Delivery.RetryInterval <= 0 {
		bad("RETRY_INTERVAL must be positive")
	}
	if c.Delivery.MaxRetries <= 0 {
		bad("MAX_RETRIES must be positive")
	}
	if c.Delivery.BulkBatchSize <= 0 {
		bad("BULK_BATCH_SIZE must be positive")
	}
	if c.Delivery.BulkBatchDelay < 0 {
		bad("BULK_BATCH_DELAY must not be negative")
	}
	if c.Delivery.ProviderTimeout <= 0 {
		bad("PROVIDER_TIMEOUT must be positive")
	}
	if c.Delivery.DispatchInterval < 0 {
		bad("DISPATCH_INTERVAL must not be negative")
	}

	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.URL == "" {
			bad("REDIS_URL is required for the redis cache")
		}
	default:
		bad("unknown cache type %q", c.Cache.Type)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		bad("unknown log format %q", c.Logging.Format)
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		bad("SMTP_PORT out of range: %d", c.SMTP.Port)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		bad("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return errors.Join(errs...)
}

// SendGridConfigured returns true if an API key and sender are set.
func (c *Config) SendGridConfigured() bool {
	return c.SendGrid.APIKey != "" && c.sender(c.SendGrid.From) != ""
}

// SESConfigured returns true if a region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.sender(c.SES.Sender) != ""
}

// SMTPConfigured returns true if an SMTP host or Gmail credentials are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" || c.GmailConfigured()
}

// GmailConfigured returns true if both Gmail credentials are set.
func (c *Config) GmailConfigured() bool {
	return c.Gmail.User != "" && c.Gmail.Password != ""
}

// PostmarkConfigured returns true if a server token and sender are set.
func (c *Config) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != "" && c.sender(c.Postmark.From) != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// IngressAuthEnabled returns true if both ingress username and password are set.
func (c *Config) IngressAuthEnabled() bool {
	return c.Ingress.Username != "" && c.Ingress.Password != ""
}

// SenderFor returns the provider-specific sender, falling back to EMAIL_FROM.
func (c *Config) SenderFor(providerFrom string) string {
	return c.sender(providerFrom)
}

func (c *Config) sender(providerFrom string) string {
	if providerFrom != "" {
		return providerFrom
	}
	return c.App.From
}
