package mailer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/shineum/mailrelay/internal/cache"
	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/metrics"
	"github.com/shineum/mailrelay/internal/templates"
)

// SentRecord is stored under email:sent:<messageID> after a delivery.
type SentRecord struct {
	MessageID  string    `json:"messageId"`
	Provider   string    `json:"provider"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	TemplateID string    `json:"templateId,omitempty"`
	TrackingID string    `json:"trackingId,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// Send validates msg, applies its template and tracking pixel, and tries each
// available provider in priority order until one succeeds. Only validation
// errors are returned; when every provider fails the message is queued for
// retry and a failed Result is returned with a nil error.
func (s *Service) Send(ctx context.Context, msg *email.Message) (email.Result, error) {
	var m *email.Message
	if msg != nil {
		m = msg.Clone()
		m.ApplyDefaults()
	}
	if err := m.Validate(); err != nil {
		s.metrics.RecordResult(metrics.OutcomeInvalid)
		return email.Result{}, err
	}

	s.applyTemplate(ctx, m)

	var trackingID string
	if m.OpensTracked() && m.HTML != "" {
		trackingID = s.newID()
		m.HTML += s.trackingPixel(trackingID)
	}

	res, ok := s.deliver(ctx, m, trackingID)
	if ok {
		s.metrics.RecordResult(metrics.OutcomeSent)
		return res, nil
	}

	id := s.enqueue(m, trackingID, res.Error)
	s.metrics.RecordResult(metrics.OutcomeQueued)
	s.logEvent(ctx, slog.LevelWarn, "email.queued_for_retry", m,
		slog.String("queue_id", id),
		slog.String("error", res.Error),
	)
	return email.Result{
		Error:     fmt.Sprintf("all providers failed; queued for retry (%s)", id),
		Timestamp: s.now().UTC(),
	}, nil
}

func (s *Service) applyTemplate(ctx context.Context, m *email.Message) {
	if m.TemplateID == "" {
		return
	}
	rendered, err := s.templates.Render(m.TemplateID, m.TemplateData)
	if errors.Is(err, templates.ErrUnknownTemplate) {
		s.logger.DebugContext(ctx, "unknown template, sending as is", "template", m.TemplateID)
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "template render failed, sending as is", "template", m.TemplateID, "error", err)
		return
	}
	m.Subject = rendered.Subject
	m.HTML = rendered.HTML
	m.Text = rendered.Text
}

func (s *Service) trackingPixel(trackingID string) string {
	return fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`,
		html.EscapeString(s.TrackingPixelURL(trackingID)))
}

// deliver walks the provider chain once. It reports the winning result, or
// the last failure when no provider succeeded.
func (s *Service) deliver(ctx context.Context, m *email.Message, trackingID string) (email.Result, bool) {
	last := email.Failed("", errors.New("no email providers available"))

	for _, p := range s.providers {
		if err := ctx.Err(); err != nil {
			return email.Failed("", err), false
		}

		if !p.IsAvailable(ctx) {
			s.logEvent(ctx, slog.LevelDebug, "email.provider_unavailable", m, slog.String("provider", p.Name()))
			continue
		}

		start := s.now()
		pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		res := p.Send(pctx, m)
		cancel()
		s.metrics.RecordAttempt(p.Name(), res.Success, s.now().Sub(start))

		if res.Provider == "" {
			res.Provider = p.Name()
		}

		if res.Success {
			s.recordSent(ctx, m, res, trackingID)
			s.logEvent(ctx, slog.LevelInfo, "email.sent", m,
				slog.String("provider", res.Provider),
				slog.String("message_id", res.MessageID),
			)
			return res, true
		}

		s.logEvent(ctx, slog.LevelWarn, "email.provider_failed", m,
			slog.String("provider", res.Provider),
			slog.String("error", res.Error),
		)
		last = res
	}
	return last, false
}

// recordSent is best effort: a cache failure never fails the delivery.
func (s *Service) recordSent(ctx context.Context, m *email.Message, res email.Result, trackingID string) {
	if res.MessageID == "" {
		return
	}
	rec := SentRecord{
		MessageID:  res.MessageID,
		Provider:   res.Provider,
		To:         m.To.Emails(),
		Subject:    m.Subject,
		TemplateID: m.TemplateID,
		TrackingID: trackingID,
		SentAt:     res.Timestamp,
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = s.now().UTC()
	}
	if err := cache.SetJSON(ctx, s.cache, sentKeyPrefix+res.MessageID, rec, s.cfg.SentRecordTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to store sent record", "message_id", res.MessageID, "error", err)
	}
}

// GetEmailStatus returns the sent record for messageID, or nil when none is
// stored.
func (s *Service) GetEmailStatus(ctx context.Context, messageID string) (*SentRecord, error) {
	var rec SentRecord
	err := cache.GetJSON(ctx, s.cache, sentKeyPrefix+messageID, &rec)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email status: %w", err)
	}
	return &rec, nil
}
