// Package parser turns raw RFC 5322 messages received over SMTP into
// email.Message values for the delivery pipeline.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailrelay/internal/email"
)

// Parse parses a raw message. It handles single part messages, nested
// multipart bodies and attachments. Transfer encodings and charsets are
// decoded. Unrecognized parts are logged and skipped.
func Parse(raw []byte) (*email.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	msg := &email.Message{}
	if err := readHeader(&mr.Header, msg); err != nil {
		return nil, err
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				slog.Warn("skipping undecodable part", "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			if err := readInline(&h.Header, p.Body, msg); err != nil {
				slog.Warn("failed to read inline part", "error", err)
			}
		case *mail.AttachmentHeader:
			if isUntypedBody(&h.Header) {
				if err := readInline(&h.Header, p.Body, msg); err != nil {
					slog.Warn("failed to read body part", "error", err)
				}
				continue
			}
			att, err := readAttachment(h, p.Body)
			if err != nil {
				slog.Warn("failed to read attachment", "error", err)
				continue
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	return msg, nil
}

func readHeader(h *mail.Header, msg *email.Message) error {
	subject, err := h.Subject()
	if err != nil {
		slog.Warn("failed to decode subject", "error", err)
		subject = h.Get("Subject")
	}
	msg.Subject = subject

	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}

	from := addressList(h, "From")
	if len(from) > 0 {
		msg.From = &from[0]
	}
	if replyTo := addressList(h, "Reply-To"); len(replyTo) > 0 {
		msg.ReplyTo = &replyTo[0]
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
	msg.Bcc = addressList(h, "Bcc")

	// X-Priority values often carry a trailing comment, e.g. "1 (Highest)".
	priority, _, _ := strings.Cut(strings.TrimSpace(h.Get("X-Priority")), " ")
	switch priority {
	case "":
	case "1", "2":
		msg.Priority = email.PriorityHigh
	case "4", "5":
		msg.Priority = email.PriorityLow
	default:
		msg.Priority = email.PriorityNormal
	}
	return nil
}

// isUntypedBody reports whether a part has neither a content type nor an
// attachment disposition. Such parts default to text/plain.
func isUntypedBody(h *message.Header) bool {
	mediaType, _, _ := h.ContentType()
	disp, _, _ := h.ContentDisposition()
	return mediaType == "" && disp != "attachment"
}

func readInline(h *message.Header, body io.Reader, msg *email.Message) error {
	mediaType, params, err := h.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	switch mediaType {
	case "text/plain":
		if msg.Text == "" {
			msg.Text = string(content)
		}
	case "text/html":
		if msg.HTML == "" {
			msg.HTML = string(content)
		}
	default:
		// Inline parts with a name are still attachments to the caller.
		filename := inlineFilename(h, params)
		if filename == "" {
			slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
			return nil
		}
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
	}
	return nil
}

func readAttachment(h *mail.AttachmentHeader, body io.Reader) (email.Attachment, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return email.Attachment{}, err
	}

	mediaType, params, _ := h.ContentType()
	filename, err := h.Filename()
	if err != nil || filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = fallbackFilename(mediaType)
	}

	return email.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		Content:     content,
	}, nil
}

func inlineFilename(h *message.Header, params map[string]string) string {
	if _, dispParams, err := h.ContentDisposition(); err == nil && dispParams["filename"] != "" {
		return dispParams["filename"]
	}
	return params["name"]
}

// fallbackFilename derives a name from the media type. Some providers reject
// attachments without one.
func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func addressList(h *mail.Header, key string) email.AddressList {
	if h.Get(key) == "" {
		return nil
	}

	addrs, err := h.AddressList(key)
	if err != nil {
		// Fall back to a plain comma split so validation reports bad entries.
		var out email.AddressList
		for _, part := range strings.Split(h.Get(key), ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, email.Address{Address: trimmed})
			}
		}
		return out
	}

	out := make(email.AddressList, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, email.Address{Name: a.Name, Address: a.Address})
	}
	return out
}
