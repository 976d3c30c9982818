package email

import (
	"bytes"
	"encoding/json"
	"net/mail"
	"strings"
)

// Address is a single mailbox with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address" validate:"required,email"`
}

// ParseAddress parses "a@x.com" or "Name <a@x.com>". Input that cannot be
// parsed is kept verbatim in Address so validation reports it instead of
// the decoder.
func ParseAddress(s string) Address {
	s = strings.TrimSpace(s)
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{Address: s}
	}
	return Address{Name: parsed.Name, Address: parsed.Address}
}

// String formats the address for a message header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// UnmarshalJSON accepts either a plain string or a {name, address} object.
func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ParseAddress(s)
		return nil
	}
	type plain Address
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Address(p)
	return nil
}

// AddressList is a one-or-many recipient field.
type AddressList []Address

// Addresses builds an AddressList from address strings.
func Addresses(addrs ...string) AddressList {
	if len(addrs) == 0 {
		return nil
	}
	out := make(AddressList, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, ParseAddress(a))
	}
	return out
}

// Emails returns the bare addresses.
func (l AddressList) Emails() []string {
	if len(l) == 0 {
		return nil
	}
	out := make([]string, len(l))
	for i, a := range l {
		out[i] = a.Address
	}
	return out
}

// Strings returns header-formatted addresses.
func (l AddressList) Strings() []string {
	if len(l) == 0 {
		return nil
	}
	out := make([]string, len(l))
	for i, a := range l {
		out[i] = a.String()
	}
	return out
}

// UnmarshalJSON accepts a single address (string or object) or an array.
func (l *AddressList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var many []Address
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one Address
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = AddressList{one}
	return nil
}
