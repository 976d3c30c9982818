package email

import (
	"net/textproto"
	"sort"
)

// Header is a caller-supplied message header.
type Header struct {
	Name  string
	Value string
}

// reservedHeaders are derived from Message fields and may not be set through
// Message.Headers.
var reservedHeaders = map[string]struct{}{
	"From":                      {},
	"Sender":                    {},
	"To":                        {},
	"Cc":                        {},
	"Bcc":                       {},
	"Reply-To":                  {},
	"Subject":                   {},
	"Date":                      {},
	"Message-Id":                {},
	"Return-Path":               {},
	"Mime-Version":              {},
	"Content-Type":              {},
	"Content-Transfer-Encoding": {},
	"Content-Disposition":       {},
	"X-Priority":                {},
}

// IsReservedHeader reports whether name is a structural header that is
// built from the message itself. The check is case-insensitive.
func IsReservedHeader(name string) bool {
	_, ok := reservedHeaders[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

// CustomHeaders returns the caller headers sorted by name, without reserved
// ones.
func (m *Message) CustomHeaders() []Header {
	if len(m.Headers) == 0 {
		return nil
	}
	out := make([]Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		if IsReservedHeader(k) {
			continue
		}
		out = append(out, Header{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
