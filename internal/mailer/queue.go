package mailer

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/mailrelay/internal/email"
)

// QueueEntry is a message waiting for another delivery attempt.
type QueueEntry struct {
	ID         string
	Message    *email.Message
	TrackingID string
	Retries    int
	EnqueuedAt time.Time
	LastError  string
}

func (s *Service) enqueue(m *email.Message, trackingID, lastErr string) string {
	entry := &QueueEntry{
		ID:         s.newID(),
		Message:    m,
		TrackingID: trackingID,
		EnqueuedAt: s.now().UTC(),
		LastError:  lastErr,
	}

	s.mu.Lock()
	s.queue[entry.ID] = entry
	n := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueueSize(n)
	return entry.ID
}

// QueueSize returns the number of messages waiting for retry.
func (s *Service) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RetryPending runs one retry pass over the queue. Each entry goes through
// the provider chain once; it leaves the queue on success or once it has
// failed MaxRetries retries.
func (s *Service) RetryPending(ctx context.Context) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	s.mu.Lock()
	entries := make([]*QueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}

		res, ok := s.deliver(ctx, e.Message, e.TrackingID)
		if !ok && ctx.Err() != nil {
			// Interrupted, not a failed attempt.
			break
		}

		s.mu.Lock()
		if ok {
			delete(s.queue, e.ID)
			s.mu.Unlock()
			s.logEvent(ctx, slog.LevelInfo, "email.retry_succeeded", e.Message,
				slog.String("provider", res.Provider),
				slog.String("queue_id", e.ID),
				slog.Int("retries", e.Retries),
			)
			continue
		}

		e.Retries++
		e.LastError = res.Error
		exhausted := e.Retries >= s.cfg.MaxRetries
		if exhausted {
			delete(s.queue, e.ID)
		}
		retries := e.Retries
		s.mu.Unlock()

		if exhausted {
			s.metrics.RecordRetryExhausted()
			s.logEvent(ctx, slog.LevelError, "email.retry_exhausted", e.Message,
				slog.String("queue_id", e.ID),
				slog.Int("retries", retries),
				slog.String("error", res.Error),
			)
			continue
		}
		s.logEvent(ctx, slog.LevelWarn, "email.retry_failed", e.Message,
			slog.String("queue_id", e.ID),
			slog.Int("retries", retries),
			slog.String("error", res.Error),
		)
	}

	s.metrics.SetQueueSize(s.QueueSize())
}
