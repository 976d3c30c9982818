package mailer

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

// TrackingPixelURL returns the open-tracking URL for trackingID.
func (s *Service) TrackingPixelURL(trackingID string) string {
	return s.cfg.AppURL + "/api/email/track/open/" + url.PathEscape(trackingID)
}

// UnsubscribeURL returns the unsubscribe link for address on listID. The
// token is the standard base64 of "address:listID", query-escaped.
func (s *Service) UnsubscribeURL(address, listID string) string {
	token := base64.StdEncoding.EncodeToString([]byte(address + ":" + listID))
	return s.cfg.AppURL + "/unsubscribe?token=" + url.QueryEscape(token)
}

// ParseUnsubscribeToken reverses the token built by UnsubscribeURL. token is
// the unescaped query value.
func ParseUnsubscribeToken(token string) (address, listID string, err error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", errors.New("malformed unsubscribe token")
	}
	address, listID, ok := strings.Cut(string(raw), ":")
	if !ok || !strings.Contains(address, "@") {
		return "", "", errors.New("malformed unsubscribe token")
	}
	return address, listID, nil
}
