// Package mailer is the email delivery service: it validates messages,
// expands templates, tries providers in priority order and keeps failed
// messages on an in-process retry queue.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailrelay/internal/cache"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/metrics"
	"github.com/shineum/mailrelay/internal/provider"
	"github.com/shineum/mailrelay/internal/templates"
)

var (
	// ErrScheduleInPast is returned when a send time is not in the future.
	ErrScheduleInPast = errors.New("scheduled time must be in the future")

	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("mailer closed")
)

// Cache key prefixes.
const (
	sentKeyPrefix      = "email:sent:"
	scheduledKeyPrefix = "email:scheduled:"
)

// Config tunes the service.
type Config struct {
	// From is the sender used when a message has none. Providers fall back
	// to their own configured sender when this is empty.
	From email.Address

	// AppURL is the public base URL for tracking and unsubscribe links.
	AppURL string

	Branding templates.Branding

	RetryInterval    time.Duration
	MaxRetries       int
	BulkBatchSize    int
	BulkBatchDelay   time.Duration
	ProviderTimeout  time.Duration
	SentRecordTTL    time.Duration
	DispatchInterval time.Duration // zero disables scheduled dispatch
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AppURL:           "http://localhost:3000",
		RetryInterval:    5 * time.Second,
		MaxRetries:       3,
		BulkBatchSize:    50,
		BulkBatchDelay:   time.Second,
		ProviderTimeout:  30 * time.Second,
		SentRecordTTL:    30 * 24 * time.Hour,
		DispatchInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AppURL == "" {
		c.AppURL = def.AppURL
	}
	c.AppURL = strings.TrimRight(c.AppURL, "/")
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = def.BulkBatchSize
	}
	if c.BulkBatchDelay < 0 {
		c.BulkBatchDelay = 0
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = def.ProviderTimeout
	}
	if c.SentRecordTTL <= 0 {
		c.SentRecordTTL = def.SentRecordTTL
	}
	return c
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTemplates replaces the template registry built from Config.Branding.
func WithTemplates(r *templates.Registry) Option {
	return func(s *Service) { s.templates = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the delivery pipeline. It is safe for concurrent use.
type Service struct {
	cfg       Config
	providers []provider.Provider
	cache     cache.Cache
	templates *templates.Registry
	logger    *slog.Logger
	metrics   *metrics.Metrics

	now   func() time.Time
	wait  func(ctx context.Context, d time.Duration) error
	newID func() string

	mu      sync.Mutex
	queue   map[string]*QueueEntry
	retryMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// New creates the service. Providers are tried in ascending priority.
func New(cfg Config, providers []provider.Provider, c cache.Cache, opts ...Option) (*Service, error) {
	if c == nil {
		return nil, errors.New("mailer: cache is required")
	}

	s := &Service{
		cfg:       cfg.withDefaults(),
		providers: provider.Sort(providers),
		cache:     c,
		logger:    slog.Default(),
		now:       time.Now,
		wait:      sleepContext,
		newID:     uuid.NewString,
		queue:     make(map[string]*QueueEntry),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.templates == nil {
		reg, err := templates.NewRegistry(s.cfg.Branding)
		if err != nil {
			return nil, fmt.Errorf("mailer: load templates: %w", err)
		}
		s.templates = reg
	}
	return s, nil
}

// Providers returns the providers in the order they are tried.
func (s *Service) Providers() []provider.Provider {
	out := make([]provider.Provider, len(s.providers))
	copy(out, s.providers)
	return out
}

// Templates returns the template registry.
func (s *Service) Templates() *templates.Registry {
	return s.templates
}

// Run drives the retry queue and, when enabled, scheduled dispatch until ctx
// is done or Close is called.
func (s *Service) Run(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	retry := time.NewTicker(s.cfg.RetryInterval)
	defer retry.Stop()

	var dispatch <-chan time.Time
	if s.cfg.DispatchInterval > 0 {
		t := time.NewTicker(s.cfg.DispatchInterval)
		defer t.Stop()
		dispatch = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-retry.C:
			s.RetryPending(ctx)
		case <-dispatch:
			if _, err := s.DispatchDue(ctx); err != nil {
				s.logger.Error("scheduled dispatch failed", "error", err)
			}
		}
	}
}

// Close stops Run. Queued messages are dropped.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		n := len(s.queue)
		s.mu.Unlock()
		if n > 0 {
			s.logger.Warn("mailer closed with queued messages", "queued", n)
		}
	})
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// logEvent writes one structured delivery event.
func (s *Service) logEvent(ctx context.Context, level slog.Level, event string, msg *email.Message, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("event", event)}
	if msg != nil {
		base = append(base,
			slog.String("to", strings.Join(msg.To.Emails(), ",")),
			slog.String("subject", msg.Subject),
		)
	}
	s.logger.LogAttrs(ctx, level, event, append(base, attrs...)...)
}
