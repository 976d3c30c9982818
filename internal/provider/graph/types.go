package graph

import (
	"encoding/base64"
	"strings"

	"github.com/shineum/mailrelay/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient       `json:"replyTo,omitempty"`
	Importance             string            `json:"importance,omitempty"`
	Categories             []string          `json:"categories,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a message into a sendMail request body. Graph
// accepts a single body, so HTML wins over text when both are present.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}
	if msg.HTML != "" {
		body.ContentType = "html"
		body.Content = msg.HTML
	}

	out := &sendMailRequest{
		SaveToSentItems: false,
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			ToRecipients:  recipients(msg.To),
			CcRecipients:  recipients(msg.Cc),
			BccRecipients: recipients(msg.Bcc),
			Categories:    msg.Tags,
		},
	}
	if msg.ReplyTo != nil {
		out.Message.ReplyTo = recipients(email.AddressList{*msg.ReplyTo})
	}

	switch msg.EffectivePriority() {
	case email.PriorityHigh:
		out.Message.Importance = "high"
	case email.PriorityLow:
		out.Message.Importance = "low"
	}

	// Graph only accepts custom x- headers.
	for _, h := range msg.CustomHeaders() {
		if strings.HasPrefix(strings.ToLower(h.Name), "x-") {
			out.Message.InternetMessageHeaders = append(out.Message.InternetMessageHeaders,
				messageHeader{Name: h.Name, Value: h.Value})
		}
	}

	for _, att := range msg.Attachments {
		out.Message.Attachments = append(out.Message.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.MediaType(),
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return out
}

func recipients(list email.AddressList) []recipient {
	if len(list) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(list))
	for _, a := range list {
		out = append(out, recipient{EmailAddress: emailAddress{Name: a.Name, Address: a.Address}})
	}
	return out
}
