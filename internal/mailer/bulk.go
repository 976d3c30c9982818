package mailer

import (
	"context"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailrelay/internal/email"
)

// SendBulk sends templateID to every recipient. Recipients are processed in
// batches of BulkBatchSize, concurrently within a batch, with BulkBatchDelay
// between batch starts. Each message carries a List-Unsubscribe link for the
// recipient on templateID. Every recipient gets a result; a cancelled ctx fails
// the recipients of the batches not yet started.
func (s *Service) SendBulk(ctx context.Context, recipients []string, templateID string, data map[string]any) map[string]email.Result {
	results := make(map[string]email.Result, len(recipients))
	var mu sync.Mutex

	// A known template supplies the subject that Send validates before
	// rendering.
	var subject string
	if rendered, err := s.templates.Render(templateID, data); err == nil {
		subject = rendered.Subject
	}

	size := s.cfg.BulkBatchSize
	for start := 0; start < len(recipients); start += size {
		if start > 0 {
			if err := s.wait(ctx, s.cfg.BulkBatchDelay); err != nil {
				failRemaining(results, recipients[start:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			failRemaining(results, recipients[start:], err)
			break
		}

		end := min(start+size, len(recipients))

		var g errgroup.Group
		for _, to := range recipients[start:end] {
			g.Go(func() error {
				res, err := s.Send(ctx, &email.Message{
					To:           email.Addresses(to),
					Subject:      subject,
					TemplateID:   templateID,
					TemplateData: maps.Clone(data),
					Headers: map[string]string{
						"List-Unsubscribe": "<" + s.UnsubscribeURL(to, templateID) + ">",
					},
				})
				if err != nil {
					res = email.Failed("", err)
				}

				mu.Lock()
				results[to] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

func failRemaining(results map[string]email.Result, recipients []string, err error) {
	for _, to := range recipients {
		results[to] = email.Failed("", err)
	}
}
