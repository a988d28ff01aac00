package middleware

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	defaultSessionName = "passport-middleware"

	sessionKeyState        = "passport-state"
	sessionKeyCodeVerifier = "passport-code-verifier"
	sessionKeyReturnTo     = "passport-return-to"
	sessionKeyAccessToken  = "passport-access-token"
	sessionKeyRefreshToken = "passport-refresh-token"
	sessionKeyTokenExpiry  = "passport-token-expiry"
)

// GorillaSessions is a wrapper around a gorilla sessions store, to comply
// with the SessionStore interface. Use a store with an authenticated,
// encrypted codec - the session carries bearer and refresh tokens.
type GorillaSessions struct {
	// Store is the gorilla sessions store to use
	Store sessions.Store
	// SessionName is a name used for the session. If not set, a default is
	// used.
	SessionName string
}

func (g *GorillaSessions) Get(r *http.Request) (*SessionData, error) {
	if g.Store == nil {
		return nil, fmt.Errorf("store must be set")
	}
	if g.SessionName == "" {
		g.SessionName = defaultSessionName
	}

	session, err := g.Store.Get(r, g.SessionName)
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", g.SessionName, err)
	}

	state, _ := session.Values[sessionKeyState].(string)
	codeVerifier, _ := session.Values[sessionKeyCodeVerifier].(string)
	returnTo, _ := session.Values[sessionKeyReturnTo].(string)
	accessToken, _ := session.Values[sessionKeyAccessToken].(string)
	refreshToken, _ := session.Values[sessionKeyRefreshToken].(string)
	tokenExpiry, _ := session.Values[sessionKeyTokenExpiry].(string)

	return &SessionData{
		State:        state,
		CodeVerifier: codeVerifier,
		ReturnTo:     returnTo,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenExpiry:  tokenExpiry,
	}, nil
}

func (g *GorillaSessions) Save(w http.ResponseWriter, r *http.Request, d *SessionData) error {
	if g.Store == nil {
		return fmt.Errorf("store must be set")
	}
	if g.SessionName == "" {
		g.SessionName = defaultSessionName
	}

	session, _ := g.Store.Get(r, g.SessionName)
	if d == nil {
		session.Options.MaxAge = -1
	} else {
		session.Values[sessionKeyState] = d.State
		session.Values[sessionKeyCodeVerifier] = d.CodeVerifier
		session.Values[sessionKeyReturnTo] = d.ReturnTo
		session.Values[sessionKeyAccessToken] = d.AccessToken
		session.Values[sessionKeyRefreshToken] = d.RefreshToken
		session.Values[sessionKeyTokenExpiry] = d.TokenExpiry
	}

	// stick the fields in, and go
	if err := sessions.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
