// Package provider defines the contract every email delivery backend
// implements.
package provider

import (
	"context"
	"sort"

	"github.com/shineum/mailrelay/internal/email"
)

// Provider is an outbound delivery backend (SendGrid, SES, SMTP, ...).
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the short identifier used in results and logs.
	Name() string

	// Priority orders providers; lower values are tried first.
	Priority() int

	// IsAvailable reports whether the provider is configured and reachable.
	// It must not block longer than ctx allows.
	IsAvailable(ctx context.Context) bool

	// Send delivers msg. Failures are reported in the Result, never as a
	// panic or returned error.
	Send(ctx context.Context, msg *email.Message) email.Result
}

// Sort orders providers by ascending priority. Providers with equal priority
// keep their registration order. The input slice is not modified.
func Sort(providers []Provider) []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// Sender resolves the from address for msg, falling back to def when the
// message does not carry one.
func Sender(msg *email.Message, def email.Address) email.Address {
	if msg.From != nil && msg.From.Address != "" {
		return *msg.From
	}
	return def
}
