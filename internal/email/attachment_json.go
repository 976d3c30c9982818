package email

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type attachmentJSON struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
}

// MarshalJSON always emits base64 content so binary attachments survive the
// cache and the HTTP API.
func (a Attachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(attachmentJSON{
		Filename:    a.Filename,
		Content:     base64.StdEncoding.EncodeToString(a.Content),
		ContentType: a.ContentType,
		Encoding:    "base64",
	})
}

// UnmarshalJSON decodes content according to Encoding: "base64" content is
// decoded, anything else is taken as text.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	var raw attachmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	content := []byte(raw.Content)
	if strings.EqualFold(raw.Encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(raw.Content)
		if err != nil {
			return fmt.Errorf("attachment %q: invalid base64 content: %w", raw.Filename, err)
		}
		content = decoded
	}
	*a = Attachment{
		Filename:    raw.Filename,
		Content:     content,
		ContentType: raw.ContentType,
		Encoding:    raw.Encoding,
	}
	return nil
}
