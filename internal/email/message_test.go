package email

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() *Message {
	return &Message{
		To:      Addresses("a@x.com"),
		Subject: "Hi",
		Text:    "hi",
	}
}

func TestValidate_SubjectBoundary(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.Subject = strings.Repeat("s", MaxSubjectLength)
	require.NoError(t, msg.Validate())

	msg.Subject = strings.Repeat("s", MaxSubjectLength+1)
	err := msg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "subject")
}

func TestValidate_SubjectCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.Subject = strings.Repeat("é", MaxSubjectLength)
	assert.NoError(t, msg.Validate())
}

func TestValidate_EmptySubject(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.Subject = ""
	err := msg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestValidate_AddressWithoutAt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field string
		mut   func(m *Message)
	}{
		{"to", "to[0].address", func(m *Message) { m.To = Addresses("no-at-sign.example.com") }},
		{"cc", "cc[0].address", func(m *Message) { m.Cc = Addresses("no-at-sign.example.com") }},
		{"bcc", "bcc[0].address", func(m *Message) { m.Bcc = Addresses("no-at-sign.example.com") }},
		{"from", "from.address", func(m *Message) { m.From = &Address{Address: "no-at-sign.example.com"} }},
		{"replyTo", "replyTo.address", func(m *Message) { m.ReplyTo = &Address{Address: "no-at-sign.example.com"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := validMessage()
			tt.mut(msg)

			err := msg.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestValidate_RequiresRecipient(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.To = nil
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)

	msg.To = AddressList{}
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)
}

func TestValidate_Priority(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.Priority = PriorityHigh
	assert.NoError(t, msg.Validate())

	msg.Priority = "urgent"
	assert.ErrorIs(t, msg.Validate(), ErrInvalidMessage)
}

func TestValidate_NamedAddresses(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	msg.To = Addresses("Jane Doe <jane@example.com>", "bob@example.com")
	require.NoError(t, msg.Validate())
	assert.Equal(t, "Jane Doe", msg.To[0].Name)
	assert.Equal(t, []string{"jane@example.com", "bob@example.com"}, msg.To.Emails())
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	msg := validMessage()
	assert.True(t, msg.OpensTracked())
	assert.True(t, msg.ClicksTracked())
	assert.Equal(t, PriorityNormal, msg.EffectivePriority())

	msg.TrackOpens = Bool(false)
	msg.ApplyDefaults()
	assert.False(t, msg.OpensTracked())
	assert.True(t, msg.ClicksTracked())
	assert.Equal(t, PriorityNormal, msg.Priority)
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := &Message{
		To:           Addresses("a@x.com"),
		From:         &Address{Address: "from@x.com"},
		Subject:      "s",
		Attachments:  []Attachment{{Filename: "a.txt", Content: []byte("abc")}},
		TemplateData: map[string]any{"k": "v"},
		Headers:      map[string]string{"X-A": "1"},
		TrackOpens:   Bool(true),
		ScheduledFor: &when,
	}

	c := orig.Clone()
	c.To[0].Address = "changed@x.com"
	c.From.Address = "changed@x.com"
	c.Attachments[0].Content[0] = 'z'
	c.TemplateData["k"] = "changed"
	c.Headers["X-A"] = "2"
	*c.TrackOpens = false

	assert.Equal(t, "a@x.com", orig.To[0].Address)
	assert.Equal(t, "from@x.com", orig.From.Address)
	assert.Equal(t, []byte("abc"), orig.Attachments[0].Content)
	assert.Equal(t, "v", orig.TemplateData["k"])
	assert.Equal(t, "1", orig.Headers["X-A"])
	assert.True(t, *orig.TrackOpens)
}

func TestMessageJSON_OneOrManyRecipients(t *testing.T) {
	t.Parallel()

	var single Message
	require.NoError(t, json.Unmarshal([]byte(`{"to":"a@x.com","subject":"s"}`), &single))
	assert.Equal(t, []string{"a@x.com"}, single.To.Emails())

	var many Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"to":["a@x.com",{"name":"Bee","address":"b@x.com"}],
		"cc":{"name":"Cee","address":"c@x.com"},
		"subject":"s"}`), &many))
	require.Len(t, many.To, 2)
	assert.Equal(t, "Bee", many.To[1].Name)
	require.Len(t, many.Cc, 1)
	assert.Equal(t, "c@x.com", many.Cc[0].Address)
}

func TestAttachmentJSON(t *testing.T) {
	t.Parallel()

	var text Attachment
	require.NoError(t, json.Unmarshal([]byte(`{"filename":"a.txt","content":"hello"}`), &text))
	assert.Equal(t, []byte("hello"), text.Content)

	var b64 Attachment
	require.NoError(t, json.Unmarshal([]byte(`{"filename":"a.bin","content":"AAEC","encoding":"base64"}`), &b64))
	assert.Equal(t, []byte{0, 1, 2}, b64.Content)

	data, err := json.Marshal(b64)
	require.NoError(t, err)
	var back Attachment
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b64.Content, back.Content)

	var bad Attachment
	assert.Error(t, json.Unmarshal([]byte(`{"filename":"x","content":"!!","encoding":"base64"}`), &bad))
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()

	ok := Succeeded("ses", "id-1")
	assert.True(t, ok.Success)
	assert.Equal(t, "ses", ok.Provider)
	assert.Equal(t, "id-1", ok.MessageID)
	assert.False(t, ok.Timestamp.IsZero())

	failed := Failed("smtp", errors.New("rate limited"))
	assert.False(t, failed.Success)
	assert.Equal(t, "rate limited", failed.Error)

	assert.Equal(t, "unknown error", Failed("x", nil).Error)
}
