// Package stdout implements a development Provider that prints messages
// instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "stdout"

// DefaultPriority keeps stdout behind every real provider.
const DefaultPriority = 100

// Provider prints email messages in a human-readable format.
type Provider struct {
	mu       sync.Mutex
	writer   io.Writer
	sender   email.Address
	priority int
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider that writes to os.Stdout.
func New(sender string, priority int) *Provider {
	return NewWithWriter(os.Stdout, sender, priority)
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer, sender string, priority int) *Provider {
	if priority == 0 {
		priority = DefaultPriority
	}
	return &Provider{
		writer:   w,
		sender:   email.ParseAddress(sender),
		priority: priority,
	}
}

// Name returns "stdout".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.priority }

// IsAvailable always reports true.
func (p *Provider) IsAvailable(context.Context) bool { return true }

// Send prints msg and returns a generated message id.
func (p *Provider) Send(_ context.Context, msg *email.Message) email.Result {
	id := uuid.NewString()
	from := provider.Sender(msg, p.sender)

	var b strings.Builder
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To.Strings(), ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc.Strings(), ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc.Strings(), ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.EffectivePriority() != email.PriorityNormal {
		fmt.Fprintf(&b, "Priority: %s\n", msg.EffectivePriority())
	}
	b.WriteString("Body:\n")

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString("========================================\n")

	p.mu.Lock()
	_, err := io.WriteString(p.writer, b.String())
	p.mu.Unlock()
	if err != nil {
		return email.Failed(Name, fmt.Errorf("write message: %w", err))
	}
	return email.Succeeded(Name, id)
}

func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
