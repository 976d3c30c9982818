package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEnvVars = []string{
	"APP_URL", "EMAIL_FROM", "COMPANY_NAME", "SUPPORT_EMAIL",
	"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "SENDGRID_PRIORITY",
	"AWS_SES_REGION", "AWS_SES_ACCESS_KEY", "AWS_SES_SECRET_KEY", "AWS_SES_FROM_EMAIL",
	"AWS_SES_CONFIGURATION_SET", "AWS_SES_PRIORITY",
	"SMTP_HOST", "SMTP_PORT", "SMTP_SECURE", "SMTP_USER", "SMTP_PASS", "SMTP_FROM_EMAIL",
	"SMTP_INSECURE_SKIP_VERIFY", "SMTP_PRIORITY",
	"GMAIL_USER", "GMAIL_PASS",
	"POSTMARK_SERVER_TOKEN", "POSTMARK_ACCOUNT_TOKEN", "POSTMARK_FROM_EMAIL",
	"POSTMARK_MESSAGE_STREAM", "POSTMARK_PRIORITY",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "GRAPH_PRIORITY",
	"STDOUT_PROVIDER", "STDOUT_PRIORITY",
	"CACHE_TYPE", "REDIS_URL", "CACHE_PREFIX", "CACHE_DEFAULT_TTL",
	"RETRY_INTERVAL", "MAX_RETRIES", "BULK_BATCH_SIZE", "BULK_BATCH_DELAY",
	"PROVIDER_TIMEOUT", "DISPATCH_INTERVAL",
	"HTTP_LISTEN", "METRICS_ENABLED",
	"INGRESS_SMTP_LISTEN", "INGRESS_SMTP_DOMAIN", "INGRESS_SMTP_USERNAME",
	"INGRESS_SMTP_PASSWORD", "INGRESS_SMTP_MAX_MESSAGE_SIZE",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnvVars {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.App.URL)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 5*time.Second, cfg.Delivery.RetryInterval)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, 50, cfg.Delivery.BulkBatchSize)
	assert.Equal(t, time.Second, cfg.Delivery.BulkBatchDelay)
	assert.Equal(t, 30*time.Second, cfg.Delivery.ProviderTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Empty(t, cfg.Ingress.Listen)
	assert.EqualValues(t, 26214400, cfg.Ingress.MaxMessageSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 1, cfg.SendGrid.Priority)
	assert.Equal(t, 2, cfg.SES.Priority)
	assert.Equal(t, 3, cfg.SMTP.Priority)
	assert.Equal(t, 4, cfg.Postmark.Priority)
	assert.Equal(t, 5, cfg.Graph.Priority)
	assert.Equal(t, 100, cfg.Stdout.Priority)

	assert.False(t, cfg.SendGridConfigured())
	assert.False(t, cfg.SESConfigured())
	assert.False(t, cfg.SMTPConfigured())
	assert.False(t, cfg.PostmarkConfigured())
	assert.False(t, cfg.GraphConfigured())
	assert.False(t, cfg.IngressAuthEnabled())
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENDGRID_API_KEY", "SG.key")
	t.Setenv("SENDGRID_FROM_EMAIL", "sg@example.com")
	t.Setenv("SENDGRID_PRIORITY", "7")
	t.Setenv("AWS_SES_REGION", "us-east-1")
	t.Setenv("AWS_SES_FROM_EMAIL", "ses@example.com")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_SECURE", "true")
	t.Setenv("CACHE_TYPE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("RETRY_INTERVAL", "10s")
	t.Setenv("BULK_BATCH_SIZE", "25")
	t.Setenv("INGRESS_SMTP_LISTEN", ":2525")
	t.Setenv("INGRESS_SMTP_USERNAME", "relay")
	t.Setenv("INGRESS_SMTP_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.SendGrid.Priority)
	assert.True(t, cfg.SendGridConfigured())
	assert.True(t, cfg.SESConfigured())
	assert.True(t, cfg.SMTPConfigured())
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.True(t, cfg.SMTP.Secure)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Cache.URL)
	assert.Equal(t, 10*time.Second, cfg.Delivery.RetryInterval)
	assert.Equal(t, 25, cfg.Delivery.BulkBatchSize)
	assert.True(t, cfg.IngressAuthEnabled())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_SenderFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMAIL_FROM", "noreply@example.com")
	t.Setenv("POSTMARK_SERVER_TOKEN", "pm-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.PostmarkConfigured())
	assert.Equal(t, "noreply@example.com", cfg.SenderFor(cfg.Postmark.From))
	assert.Equal(t, "own@example.com", cfg.SenderFor("own@example.com"))
}

func TestLoad_GmailPreset(t *testing.T) {
	clearEnv(t)
	t.Setenv("GMAIL_USER", "me@gmail.com")
	t.Setenv("GMAIL_PASS", "app-password")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.GmailConfigured())
	assert.True(t, cfg.SMTPConfigured())
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	yamlContent := `
app:
  url: https://app.example.com
  company_name: Acme
sendgrid:
  api_key: SG.file
  from: file@example.com
graph:
  tenant_id: file-tenant
  client_id: file-client
  client_secret: file-secret
  sender: file@example.com
delivery:
  retry_interval: 2s
  bulk_batch_delay: 500ms
logging:
  level: warn
  format: text
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	t.Setenv("COMPANY_NAME", "Acme From Env")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com", cfg.App.URL)
	assert.Equal(t, "Acme From Env", cfg.App.CompanyName, "environment overrides the file")
	assert.True(t, cfg.SendGridConfigured())
	assert.True(t, cfg.GraphConfigured())
	assert.Equal(t, 2*time.Second, cfg.Delivery.RetryInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Delivery.BulkBatchDelay)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries, "defaults survive partial files")
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RETRIES", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.applyDefaults()
		return c
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero retry interval", func(c *Config) { c.Delivery.RetryInterval = 0 }},
		{"zero max retries", func(c *Config) { c.Delivery.MaxRetries = 0 }},
		{"zero batch size", func(c *Config) { c.Delivery.BulkBatchSize = 0 }},
		{"negative batch delay", func(c *Config) { c.Delivery.BulkBatchDelay = -time.Second }},
		{"zero provider timeout", func(c *Config) { c.Delivery.ProviderTimeout = 0 }},
		{"unknown cache", func(c *Config) { c.Cache.Type = "memcached" }},
		{"redis without url", func(c *Config) { c.Cache.Type = "redis" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"smtp port", func(c *Config) { c.SMTP.Port = 70000 }},
		{"half tls", func(c *Config) { c.TLS.CertFile = "/certs/cert.pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
