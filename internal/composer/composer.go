// Package composer builds raw RFC 5322 messages for providers that submit
// MIME directly (SES raw sends, SMTP).
package composer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/shineum/mailrelay/internal/email"
)

// Compose renders msg as a MIME message sent from "from". The text and HTML
// bodies become a multipart/alternative inline part; attachments are base64
// encoded attachment parts. It returns the raw bytes and the Message-ID used.
func Compose(from email.Address, msg *email.Message) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{toMailAddress(from)})
	if len(msg.To) > 0 {
		h.SetAddressList("To", toMailAddresses(msg.To))
	}
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(msg.Cc))
	}
	if msg.ReplyTo != nil {
		h.SetAddressList("Reply-To", []*mail.Address{toMailAddress(*msg.ReplyTo)})
	}
	h.SetSubject(msg.Subject)

	messageID := strings.Trim(msg.MessageID, "<>")
	if messageID == "" {
		messageID = uuid.NewString() + "@" + domainOf(from.Address)
	}
	h.SetMessageID(messageID)

	if p := PriorityHeader(msg.EffectivePriority()); p != "" {
		h.Set("X-Priority", p)
	}

	for _, hdr := range msg.CustomHeaders() {
		h.Set(hdr.Name, hdr.Value)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}

	if err := writeBodies(mw, msg); err != nil {
		return nil, "", err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.MediaType(), nil)
		ah.SetFilename(att.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, "", fmt.Errorf("write attachment %q: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), messageID, nil
}

func writeBodies(mw *mail.Writer, msg *email.Message) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline part: %w", err)
	}

	parts := []struct {
		mediaType string
		body      string
	}{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	}
	written := 0
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		if err := writeInline(tw, p.mediaType, p.body); err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		if err := writeInline(tw, "text/plain", ""); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close inline part: %w", err)
	}
	return nil
}

func writeInline(tw *mail.InlineWriter, mediaType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create %s part: %w", mediaType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", mediaType, err)
	}
	return w.Close()
}

// PriorityHeader maps a priority to its X-Priority value. Normal priority
// produces no header.
func PriorityHeader(p email.Priority) string {
	switch p {
	case email.PriorityHigh:
		return "1"
	case email.PriorityLow:
		return "5"
	default:
		return ""
	}
}

func toMailAddress(a email.Address) *mail.Address {
	return &mail.Address{Name: a.Name, Address: a.Address}
}

func toMailAddresses(list email.AddressList) []*mail.Address {
	out := make([]*mail.Address, len(list))
	for i, a := range list {
		out[i] = toMailAddress(a)
	}
	return out
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
