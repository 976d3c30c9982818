// Package api provides the HTTP API of the delivery service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/mailer"
	"github.com/shineum/mailrelay/internal/metrics"
)

// Mailer is the part of the delivery service the API drives.
type Mailer interface {
	Send(ctx context.Context, msg *email.Message) (email.Result, error)
	SendBulk(ctx context.Context, recipients []string, templateID string, data map[string]any) map[string]email.Result
	ScheduleEmail(ctx context.Context, msg *email.Message, sendAt time.Time) (string, error)
	CancelScheduled(ctx context.Context, id string) (bool, error)
	GetEmailStatus(ctx context.Context, messageID string) (*mailer.SentRecord, error)
}

// TemplateLister lists the template ids the service knows.
type TemplateLister interface {
	IDs() []string
}

// RouterConfig holds the router dependencies. Templates, Metrics and
// Registry are optional.
type RouterConfig struct {
	Mailer    Mailer
	Templates TemplateLister
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Logger    *slog.Logger
}

// Handler serves the email endpoints.
type Handler struct {
	mailer    Mailer
	templates TemplateLister
	metrics   *metrics.Metrics
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewRouter creates a chi router with all routes and middleware configured.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		mailer:    cfg.Mailer,
		templates: cfg.Templates,
		metrics:   cfg.Metrics,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	if cfg.Registry != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Registry))
	}
	r.Get("/unsubscribe", h.Unsubscribe)

	r.Route("/api/email", func(r chi.Router) {
		r.Get("/track/open/{trackingId}", h.TrackOpen)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/send", h.Send)
			r.Post("/bulk", h.SendBulk)
			r.Post("/schedule", h.Schedule)
			r.Delete("/schedule/{id}", h.CancelSchedule)
			r.Get("/status/{messageId}", h.Status)
			r.Get("/templates", h.ListTemplates)
		})
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
