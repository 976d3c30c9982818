package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/mailrelay/internal/logging"
	"github.com/shineum/mailrelay/internal/provider"
)

const availabilityTimeout = 10 * time.Second

func newProvidersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers in delivery order and check availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

			providers, err := buildProviders(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPRIORITY\tAVAILABLE")
			for _, p := range provider.Sort(providers) {
				ctx, cancel := context.WithTimeout(cmd.Context(), availabilityTimeout)
				available := p.IsAvailable(ctx)
				cancel()
				fmt.Fprintf(w, "%s\t%d\t%t\n", p.Name(), p.Priority(), available)
			}
			return w.Flush()
		},
	}
}
