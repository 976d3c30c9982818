package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shineum/mailrelay/internal/cache"
	"github.com/shineum/mailrelay/internal/email"
)

// minScheduleGrace is the shortest time a scheduled entry outlives its send
// time in the cache.
const minScheduleGrace = time.Minute

// ScheduledEmail is stored under email:scheduled:<id> until it is sent,
// cancelled or expires.
type ScheduledEmail struct {
	ID        string         `json:"id"`
	Message   *email.Message `json:"message"`
	SendAt    time.Time      `json:"sendAt"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ScheduleEmail stores msg for delivery at sendAt and returns the schedule id.
// When scheduled dispatch is enabled the entry stays in the cache for a
// grace period past sendAt so that the next dispatch run still finds it.
func (s *Service) ScheduleEmail(ctx context.Context, msg *email.Message, sendAt time.Time) (string, error) {
	var m *email.Message
	if msg != nil {
		m = msg.Clone()
		m.ApplyDefaults()
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	now := s.now()
	if !sendAt.After(now) {
		return "", ErrScheduleInPast
	}
	ttl := time.Duration(math.Ceil(sendAt.Sub(now).Seconds()))*time.Second + s.scheduleGrace()

	at := sendAt.UTC()
	m.ScheduledFor = &at

	rec := ScheduledEmail{
		ID:        s.newID(),
		Message:   m,
		SendAt:    at,
		Status:    "scheduled",
		CreatedAt: now.UTC(),
	}
	if err := cache.SetJSON(ctx, s.cache, scheduledKeyPrefix+rec.ID, rec, ttl); err != nil {
		return "", fmt.Errorf("schedule email: %w", err)
	}

	s.logEvent(ctx, slog.LevelInfo, "email.scheduled", m,
		slog.String("schedule_id", rec.ID),
		slog.Time("send_at", at),
	)
	return rec.ID, nil
}

// CancelScheduled removes a scheduled email. It reports whether an entry was
// removed.
func (s *Service) CancelScheduled(ctx context.Context, id string) (bool, error) {
	n, err := s.cache.Del(ctx, scheduledKeyPrefix+id)
	if err != nil {
		return false, fmt.Errorf("cancel scheduled email: %w", err)
	}
	if n > 0 {
		s.logEvent(ctx, slog.LevelInfo, "email.schedule_cancelled", nil, slog.String("schedule_id", id))
	}
	return n > 0, nil
}

// DispatchDue sends every scheduled email whose send time has passed and
// returns how many were handed to Send. An entry is removed from the
// cache before sending so that concurrent dispatchers never send it twice.
func (s *Service) DispatchDue(ctx context.Context) (int, error) {
	keys, err := s.cache.Keys(ctx, scheduledKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("list scheduled emails: %w", err)
	}

	now := s.now()
	var (
		dispatched int
		errs       []error
	)
	for _, key := range keys {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		var rec ScheduledEmail
		if err := cache.GetJSON(ctx, s.cache, key, &rec); err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				errs = append(errs, err)
			}
			continue
		}
		if rec.SendAt.After(now) {
			continue
		}

		n, err := s.cache.Del(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n == 0 {
			continue
		}

		res, err := s.Send(ctx, rec.Message)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatch %s: %w", strings.TrimPrefix(key, scheduledKeyPrefix), err))
			continue
		}
		dispatched++
		s.logEvent(ctx, slog.LevelInfo, "email.dispatched", rec.Message,
			slog.String("schedule_id", rec.ID),
			slog.Bool("success", res.Success),
			slog.String("provider", res.Provider),
		)
	}
	return dispatched, errors.Join(errs...)
}

// scheduleGrace covers at least two dispatch intervals, so a late tick does
// not miss an entry. Without a dispatcher entries expire at their send time.
func (s *Service) scheduleGrace() time.Duration {
	if s.cfg.DispatchInterval <= 0 {
		return 0
	}
	return max(2*s.cfg.DispatchInterval, minScheduleGrace)
}
