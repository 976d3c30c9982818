// Package cmd provides the CLI commands for mailrelay.
package cmd

import (
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
}

// Execute builds the command tree and runs it. Called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates a fresh command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mailrelay",
		Short: "Outbound email delivery service",
		Long: `mailrelay renders transactional email templates and delivers
messages through the configured providers (SendGrid, AWS SES, SMTP, Gmail,
Postmark, Microsoft Graph) in priority order, falling back to the next
provider on failure and retrying undeliverable messages in the background.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (environment variables override it)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newTemplatesCmd(opts))
	cmd.AddCommand(newProvidersCmd(opts))

	return cmd
}
