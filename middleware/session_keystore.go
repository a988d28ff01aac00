package middleware

import (
	"context"
	"fmt"

	"github.com/aethex-foundation/passport-go"
	"github.com/aethex-foundation/passport-go/keystore"
)

var _ keystore.Store = (*sessionKeystore)(nil)

// sessionKeystore presents a SessionData as the SDK's key-value store, so
// each request gets a client scoped to that request's cookie session. The
// middleware saves the SessionData after the client has run, which is what
// makes the client's writes durable.
type sessionKeystore struct {
	data *SessionData
}

func (s *sessionKeystore) Get(_ context.Context, key string) (string, error) {
	f, err := s.field(key)
	if err != nil {
		return "", err
	}
	return *f, nil
}

func (s *sessionKeystore) Set(_ context.Context, key, value string) error {
	f, err := s.field(key)
	if err != nil {
		return err
	}
	*f = value
	return nil
}

func (s *sessionKeystore) Delete(_ context.Context, key string) error {
	f, err := s.field(key)
	if err != nil {
		return err
	}
	*f = ""
	return nil
}

func (s *sessionKeystore) field(key string) (*string, error) {
	switch key {
	case passport.KeyAccessToken:
		return &s.data.AccessToken, nil
	case passport.KeyRefreshToken:
		return &s.data.RefreshToken, nil
	case passport.KeyTokenExpiry:
		return &s.data.TokenExpiry, nil
	case passport.KeyCodeVerifier:
		return &s.data.CodeVerifier, nil
	case passport.KeyOAuthState:
		return &s.data.State, nil
	case passport.KeyReturnTo:
		return &s.data.ReturnTo, nil
	default:
		return nil, fmt.Errorf("unknown session key %q", key)
	}
}
