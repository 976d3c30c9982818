package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var providerEnvVars = []string{
	"EMAIL_FROM", "COMPANY_NAME", "APP_URL",
	"SENDGRID_API_KEY", "AWS_SES_REGION", "SMTP_HOST", "GMAIL_USER", "GMAIL_PASS",
	"POSTMARK_SERVER_TOKEN", "GRAPH_TENANT_ID", "STDOUT_PROVIDER",
	"CACHE_TYPE", "LOG_LEVEL", "LOG_FORMAT",
}

// isolateEnv blanks every variable that would register a real provider.
// Empty values leave the defaults in place.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range providerEnvVars {
		t.Setenv(k, "")
	}
}

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("shows subcommands", func(t *testing.T) {
		output, err := executeCommand(NewRootCmd(), "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "--config")
		for _, sub := range []string{"serve", "send", "templates", "providers"} {
			assert.Contains(t, output, sub)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := executeCommand(NewRootCmd(), "bogus")
		assert.Error(t, err)
	})
}

func TestTemplatesCommand(t *testing.T) {
	isolateEnv(t)
	t.Setenv("COMPANY_NAME", "Acme Backflow")

	t.Run("list", func(t *testing.T) {
		output, err := executeCommand(NewRootCmd(), "templates", "list")
		require.NoError(t, err)
		assert.Contains(t, output, "welcome\n")
		assert.Contains(t, output, "invoice\n")
	})

	t.Run("render", func(t *testing.T) {
		output, err := executeCommand(NewRootCmd(), "templates", "render", "welcome", "--data", `{"customerName":"Ada"}`)
		require.NoError(t, err)

		var rendered map[string]string
		require.NoError(t, json.Unmarshal([]byte(output), &rendered))
		assert.Equal(t, "Welcome to Acme Backflow", rendered["subject"])
		assert.Contains(t, rendered["text"], "Ada")
	})

	t.Run("render unknown template", func(t *testing.T) {
		_, err := executeCommand(NewRootCmd(), "templates", "render", "nope")
		assert.Error(t, err)
	})

	t.Run("render invalid data", func(t *testing.T) {
		_, err := executeCommand(NewRootCmd(), "templates", "render", "welcome", "--data", "{not json")
		assert.ErrorContains(t, err, "invalid --data")
	})
}

func TestSendCommand(t *testing.T) {
	isolateEnv(t)
	t.Setenv("EMAIL_FROM", "noreply@acme.test")

	t.Run("delivers through stdout when nothing is configured", func(t *testing.T) {
		output, err := executeCommand(NewRootCmd(), "send",
			"--to", "user@example.com", "--subject", "Hello", "--text", "Hi there")
		require.NoError(t, err)

		var res struct {
			Success  bool   `json:"success"`
			Provider string `json:"provider"`
		}
		require.NoError(t, json.Unmarshal([]byte(output), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "stdout", res.Provider)
	})

	t.Run("requires a recipient", func(t *testing.T) {
		_, err := executeCommand(NewRootCmd(), "send", "--subject", "Hello")
		assert.Error(t, err)
	})

	t.Run("rejects invalid recipient", func(t *testing.T) {
		output, err := executeCommand(NewRootCmd(), "send", "--to", "not-an-address", "--subject", "Hello")
		require.Error(t, err)
		assert.Empty(t, output)
	})
}

func TestProvidersCommand(t *testing.T) {
	isolateEnv(t)

	output, err := executeCommand(NewRootCmd(), "providers")
	require.NoError(t, err)
	assert.Contains(t, output, "NAME")
	assert.Regexp(t, `stdout\s+100\s+true`, output)
}
