// Package email defines the core email data model shared by the delivery
// pipeline, the provider adapters and the ingress servers.
package email

import (
	"maps"
	"slices"
	"time"
)

// Priority is the delivery priority hint passed to providers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// MaxSubjectLength is the practical RFC 5322 line limit applied to subjects.
const MaxSubjectLength = 998

// Message is an outbound email. Callers build it, the mailer validates it and
// from then on it is treated as immutable: the pipeline works on a Clone.
type Message struct {
	To      AddressList `json:"to" validate:"required,min=1,dive"`
	Cc      AddressList `json:"cc,omitempty" validate:"omitempty,dive"`
	Bcc     AddressList `json:"bcc,omitempty" validate:"omitempty,dive"`
	From    *Address    `json:"from,omitempty"`
	ReplyTo *Address    `json:"replyTo,omitempty"`

	Subject string `json:"subject" validate:"required,max=998"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty" validate:"omitempty,dive"`

	Priority     Priority       `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
	TemplateID   string         `json:"templateId,omitempty"`
	TemplateData map[string]any `json:"templateData,omitempty"`

	TrackOpens  *bool `json:"trackOpens,omitempty"`
	TrackClicks *bool `json:"trackClicks,omitempty"`

	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`

	Tags      []string          `json:"tags,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
}

// Attachment is a file attached to a message. Content holds the decoded bytes;
// Encoding records how the caller supplied them ("base64" or empty for raw).
type Attachment struct {
	Filename    string `json:"filename" validate:"required"`
	Content     []byte `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
}

// MediaType returns the attachment content type, defaulting to
// application/octet-stream.
func (a Attachment) MediaType() string {
	if a.ContentType == "" {
		return "application/octet-stream"
	}
	return a.ContentType
}

// OpensTracked reports whether open tracking is enabled (default true).
func (m *Message) OpensTracked() bool {
	return m.TrackOpens == nil || *m.TrackOpens
}

// ClicksTracked reports whether click tracking is enabled (default true).
func (m *Message) ClicksTracked() bool {
	return m.TrackClicks == nil || *m.TrackClicks
}

// EffectivePriority returns the message priority, defaulting to normal.
func (m *Message) EffectivePriority() Priority {
	if m.Priority == "" {
		return PriorityNormal
	}
	return m.Priority
}

// ApplyDefaults fills optional fields with their documented defaults.
func (m *Message) ApplyDefaults() {
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if m.TrackOpens == nil {
		m.TrackOpens = Bool(true)
	}
	if m.TrackClicks == nil {
		m.TrackClicks = Bool(true)
	}
}

// Recipients returns every envelope recipient (to, cc and bcc) as bare
// addresses, in that order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To.Emails()...)
	out = append(out, m.Cc.Emails()...)
	out = append(out, m.Bcc.Emails()...)
	return out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.To = slices.Clone(m.To)
	c.Cc = slices.Clone(m.Cc)
	c.Bcc = slices.Clone(m.Bcc)
	if m.From != nil {
		from := *m.From
		c.From = &from
	}
	if m.ReplyTo != nil {
		replyTo := *m.ReplyTo
		c.ReplyTo = &replyTo
	}
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Content = slices.Clone(a.Content)
			c.Attachments[i] = a
		}
	}
	c.TemplateData = maps.Clone(m.TemplateData)
	c.Headers = maps.Clone(m.Headers)
	c.Tags = slices.Clone(m.Tags)
	if m.TrackOpens != nil {
		c.TrackOpens = Bool(*m.TrackOpens)
	}
	if m.TrackClicks != nil {
		c.TrackClicks = Bool(*m.TrackClicks)
	}
	if m.ScheduledFor != nil {
		t := *m.ScheduledFor
		c.ScheduledFor = &t
	}
	return &c
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}
