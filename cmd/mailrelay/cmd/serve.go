package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailrelay/internal/api"
	"github.com/shineum/mailrelay/internal/config"
	"github.com/shineum/mailrelay/internal/logging"
	"github.com/shineum/mailrelay/internal/mailer"
	"github.com/shineum/mailrelay/internal/metrics"
	"github.com/shineum/mailrelay/internal/smtpd"
	mailtls "github.com/shineum/mailrelay/internal/tls"
)

// httpShutdownTimeout bounds the wait for in-flight API requests.
const httpShutdownTimeout = 15 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the retry queue and the optional SMTP ingress",
		Long: `Start the delivery service.

The HTTP API listens on HTTP_LISTEN. When INGRESS_SMTP_LISTEN is set an SMTP
submission server is started as well; it offers STARTTLS with the configured
certificate or a generated self-signed one.`,
		Example: `  mailrelay serve
  mailrelay serve --config /etc/mailrelay.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	svc, c, err := newService(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close cache", "error", err)
		}
	}()
	defer svc.Close()

	var metricsRegistry *prometheus.Registry
	if cfg.HTTP.MetricsEnabled {
		metricsRegistry = reg
	}
	srv := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.NewRouter(api.RouterConfig{
			Mailer:    svc,
			Templates: svc.Templates(),
			Metrics:   m,
			Registry:  metricsRegistry,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var ingress *smtpd.Server
	if cfg.Ingress.Listen != "" {
		ingress, err = newIngress(cfg, svc, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := svc.Run(gctx); err != nil && !errors.Is(err, mailer.ErrClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Listen, "metrics", cfg.HTTP.MetricsEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if ingress != nil {
		g.Go(func() error { return ingress.ListenAndServe(gctx) })
	}

	logger.Info("mailrelay started",
		"providers", len(svc.Providers()),
		"cache", cfg.Cache.Type,
		"ingress", cfg.Ingress.Listen != "",
	)

	err = g.Wait()
	logger.Info("mailrelay stopped", "pending_retries", svc.QueueSize())
	return err
}

func newIngress(cfg *config.Config, sender smtpd.Sender, logger *slog.Logger) (*smtpd.Server, error) {
	tlsConfig, source, err := mailtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Ingress.Domain)
	if err != nil {
		return nil, err
	}
	logger.Info("SMTP ingress configured",
		"listen", cfg.Ingress.Listen,
		"tls_mode", string(source),
		"auth_enabled", cfg.IngressAuthEnabled(),
	)

	return smtpd.New(smtpd.ServerConfig{
		ListenAddr:      cfg.Ingress.Listen,
		Domain:          cfg.Ingress.Domain,
		Sender:          sender,
		TLSConfig:       tlsConfig,
		AuthUsername:    cfg.Ingress.Username,
		AuthPassword:    cfg.Ingress.Password,
		MaxMessageBytes: cfg.Ingress.MaxMessageSize,
		Logger:          logger,
	}), nil
}
