package smtpd

import (
	"crypto/subtle"
	"errors"

	"github.com/emersion/go-sasl"
)

var errAuthFailed = errors.New("authentication failed")

// Authenticator checks SMTP AUTH credentials against the configured pair.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If either is empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify compares credentials in constant time.
func (a *Authenticator) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}

// Mechanisms lists the SASL mechanisms offered in EHLO.
func (a *Authenticator) Mechanisms() []string {
	return []string{sasl.Plain, sasl.Login}
}

// Server returns the SASL server for mech. onSuccess runs after the
// credentials are accepted.
func (a *Authenticator) Server(mech string, onSuccess func(username string)) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(_, username, password string) error {
			if err := a.Verify(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		}), nil
	case sasl.Login:
		return &loginServer{verify: func(username, password string) error {
			if err := a.Verify(username, password); err != nil {
				return err
			}
			onSuccess(username)
			return nil
		}}, nil
	default:
		return nil, errors.New("unsupported authentication mechanism")
	}
}

// loginServer implements the server side of AUTH LOGIN: a "Username:"
// challenge, then a "Password:" challenge. A username sent as the initial
// response skips the first challenge.
type loginServer struct {
	verify   func(username, password string) error
	username string
	step     int
}

func (s *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.step {
	case 0:
		s.step++
		if len(response) == 0 {
			return []byte("Username:"), false, nil
		}
		s.username = string(response)
		s.step++
		return []byte("Password:"), false, nil
	case 1:
		s.username = string(response)
		s.step++
		return []byte("Password:"), false, nil
	case 2:
		s.step++
		return nil, true, s.verify(s.username, string(response))
	default:
		return nil, true, errors.New("unexpected client response")
	}
}
