package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/mailrelay/internal/templates"
)

func newTemplatesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the built-in email templates",
	}
	cmd.AddCommand(newTemplatesListCmd(opts))
	cmd.AddCommand(newTemplatesRenderCmd(opts))
	return cmd
}

func newTemplatesListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List template ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			for _, id := range reg.IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newTemplatesRenderCmd(opts *globalOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:     "render <id>",
		Short:   "Render a template and print subject, text and HTML as JSON",
		Example: `  mailrelay templates render invoice --data '{"customerName":"Ada","total":"$120.00"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			vars, err := parseData(data)
			if err != nil {
				return err
			}
			rendered, err := reg.Render(args[0], vars)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{
				"subject": rendered.Subject,
				"text":    rendered.Text,
				"html":    rendered.HTML,
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "template data as a JSON object")
	return cmd
}

func loadRegistry(opts *globalOptions) (*templates.Registry, error) {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	return templates.NewRegistry(branding(cfg))
}
