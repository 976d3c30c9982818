package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/logging"
)

type sendOptions struct {
	to       []string
	cc       []string
	from     string
	subject  string
	text     string
	html     string
	template string
	data     string
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	so := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single email through the configured providers",
		Example: `  mailrelay send --to user@example.com --subject Hi --text "Hello"
  mailrelay send --to user@example.com --template welcome --data '{"customerName":"Ada"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

			msg, err := so.message()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, c, err := newService(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()
			defer svc.Close()

			res, err := svc.Send(ctx, msg)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("send failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&so.to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&so.cc, "cc", nil, "cc address (repeatable)")
	cmd.Flags().StringVar(&so.from, "from", "", "sender address (defaults to EMAIL_FROM)")
	cmd.Flags().StringVar(&so.subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&so.text, "text", "", "plain text body")
	cmd.Flags().StringVar(&so.html, "html", "", "HTML body")
	cmd.Flags().StringVar(&so.template, "template", "", "template id")
	cmd.Flags().StringVar(&so.data, "data", "", "template data as a JSON object")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func (o *sendOptions) message() (*email.Message, error) {
	data, err := parseData(o.data)
	if err != nil {
		return nil, err
	}
	msg := &email.Message{
		To:           email.Addresses(o.to...),
		Cc:           email.Addresses(o.cc...),
		Subject:      o.subject,
		Text:         o.text,
		HTML:         o.html,
		TemplateID:   o.template,
		TemplateData: data,
	}
	if o.from != "" {
		from := email.ParseAddress(o.from)
		msg.From = &from
	}
	// A template supplies its own subject, but validation runs first.
	if msg.Subject == "" && msg.TemplateID != "" {
		msg.Subject = msg.TemplateID
	}
	return msg, nil
}

func parseData(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
