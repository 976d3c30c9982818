package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/parser"
)

func TestComposeRoundTrip(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To:       email.Addresses("alice@example.com", "Bob <bob@example.com>"),
		Cc:       email.Addresses("carol@example.com"),
		Bcc:      email.Addresses("hidden@example.com"),
		ReplyTo:  &email.Address{Address: "support@example.com"},
		Subject:  "Raw Test",
		Text:     "plain body",
		HTML:     "<p>html body</p>",
		Priority: email.PriorityHigh,
		Headers:  map[string]string{"X-Campaign": "spring"},
		Attachments: []email.Attachment{{
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Content:     []byte("Hello World"),
		}},
	}

	raw, id, err := Compose(email.Address{Name: "Sender", Address: "sender@example.com"}, msg)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com"))

	s := string(raw)
	assert.Contains(t, s, "Subject: Raw Test")
	assert.Contains(t, s, "X-Priority: 1")
	assert.Contains(t, s, "X-Campaign: spring")
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
	assert.NotContains(t, s, "hidden@example.com", "bcc must never appear in headers")

	parsed, err := parser.Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed.From)
	assert.Equal(t, "sender@example.com", parsed.From.Address)
	assert.Equal(t, "Sender", parsed.From.Name)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, parsed.To.Emails())
	assert.Equal(t, []string{"carol@example.com"}, parsed.Cc.Emails())
	require.NotNil(t, parsed.ReplyTo)
	assert.Equal(t, "support@example.com", parsed.ReplyTo.Address)
	assert.Equal(t, "Raw Test", parsed.Subject)
	assert.Equal(t, id, parsed.MessageID)
	assert.Equal(t, "plain body", parsed.Text)
	assert.Equal(t, "<p>html body</p>", parsed.HTML)
	assert.Equal(t, email.PriorityHigh, parsed.Priority)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "report.pdf", parsed.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", parsed.Attachments[0].ContentType)
	assert.Equal(t, "Hello World", string(parsed.Attachments[0].Content))
}

func TestComposeKeepsCallerMessageID(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To:        email.Addresses("alice@example.com"),
		Subject:   "Hi",
		Text:      "x",
		MessageID: "<fixed-id@example.org>",
	}

	raw, id, err := Compose(email.Address{Address: "sender@example.com"}, msg)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id@example.org", id)
	assert.Contains(t, string(raw), "<fixed-id@example.org>")
}

func TestComposeEmptyBody(t *testing.T) {
	t.Parallel()

	msg := &email.Message{To: email.Addresses("alice@example.com"), Subject: "Empty"}

	raw, _, err := Compose(email.Address{Address: "sender@example.com"}, msg)
	require.NoError(t, err)

	parsed, err := parser.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Empty", parsed.Subject)
	assert.Empty(t, parsed.Text)
	assert.Empty(t, parsed.Attachments)
}

func TestPriorityHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1", PriorityHeader(email.PriorityHigh))
	assert.Equal(t, "", PriorityHeader(email.PriorityNormal))
	assert.Equal(t, "5", PriorityHeader(email.PriorityLow))
}

func TestComposeIgnoresReservedHeaders(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To:      email.Addresses("alice@example.com"),
		Subject: "Headers",
		Text:    "body",
		Headers: map[string]string{
			"From":         "evil@evil.test",
			"content-type": "text/evil",
			"Message-ID":   "<forged@evil.test>",
			"X-Campaign":   "spring",
		},
	}

	raw, id, err := Compose(email.Address{Address: "sender@example.com"}, msg)
	require.NoError(t, err)

	s := string(raw)
	assert.NotContains(t, s, "evil")
	assert.Contains(t, s, "X-Campaign: spring")

	parsed, err := parser.Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed.From)
	assert.Equal(t, "sender@example.com", parsed.From.Address)
	assert.Equal(t, id, parsed.MessageID)
	assert.Equal(t, "body", parsed.Text)
}
