package mega

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Login authenticates with email and password and returns a new session.
// The password never leaves the client: only the user hash derived from it is sent.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)

	var pre PreLoginRes

	if err := m.call(ctx, channel{}, PreLoginReq{Action: "us0", User: email}, &pre); err != nil {
		return nil, authError(email, err)
	}

	if pre.Version != loginVersion {
		return nil, &AuthError{Email: email, Err: fmt.Errorf("%w: version %d", ErrUnsupportedLogin, pre.Version)}
	}

	salt, err := Base64Decode(pre.Salt)
	if err != nil {
		return nil, &AuthError{Email: email, Err: fmt.Errorf("invalid salt: %w", err)}
	}

	lk := DeriveLoginKey([]byte(password), salt)

	var res LoginRes

	if err := m.call(ctx, channel{}, LoginReq{Action: "us", User: email, UserHash: Base64Encode(lk.UserHash)}, &res); err != nil {
		return nil, authError(email, err)
	}

	auth, priv, err := Unlock(res, lk.PasswordKey)
	if err != nil {
		return nil, err
	}

	s := newSession(m, auth, priv)

	if err := s.fetchUser(ctx); err != nil {
		return nil, authError(email, err)
	}

	logrus.WithFields(logrus.Fields{
		"pkg":  "go-mega",
		"user": s.UserHandle(),
	}).Info("Logged in")

	return s, nil
}

// LoginWithProxy is Login with every request of the session tunnelled through proxyURL.
// The session owns the derived manager and releases it on Close.
func (m *Manager) LoginWithProxy(ctx context.Context, email, password, proxyURL string) (*Session, error) {
	transport, err := ProxyTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	builder := m.builder
	builder.transport = transport

	pm := builder.build()

	s, err := pm.Login(ctx, email, password)
	if err != nil {
		pm.Close()
		return nil, err
	}

	s.ownsManager = true

	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// authError maps credential rejections onto AuthError; other failures pass through.
func authError(email string, err error) error {
	var apiErr Error

	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case NoEntry, AccessDenied, BadSession, Expired, Blocked, Incomplete:
			return &AuthError{Email: email, Err: err}
		}
	}

	return err
}
