// Package middleware protects http.Handlers with Passport authentication.
// It is the server-side equivalent of the SDK's UI binding: unauthenticated
// requests are sent into the authorization flow, the OAuth callback is
// handled in-line, and the authenticated user is exposed on the request
// context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aethex-foundation/passport-go"
)

type userContextKey struct{}
type tokenContextKey struct{}

var baseLogAttr = slog.String("component", "passport-middleware")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// SessionData contains the data this middleware needs to save/restore across
// requests. This should be stored using a method that does not reveal the
// contents to the end user in any way.
type SessionData struct {
	// State for an in-progress auth flow.
	State string `json:"passport_state,omitempty"`
	// CodeVerifier is the PKCE secret for the in-progress auth flow.
	CodeVerifier string `json:"passport_code_verifier,omitempty"`
	// ReturnTo is where we should navigate to at the end of the flow.
	ReturnTo string `json:"passport_return_to,omitempty"`
	// AccessToken is the bearer token for the current logged in user.
	AccessToken string `json:"passport_access_token,omitempty"`
	// RefreshToken for the session. Only persist this with a secure
	// session store.
	RefreshToken string `json:"passport_refresh_token,omitempty"`
	// TokenExpiry is the access token expiry in epoch milliseconds,
	// stringified the way the SDK stores it.
	TokenExpiry string `json:"passport_token_expiry,omitempty"`
}

// SessionStore are used for managing state across requests.
type SessionStore interface {
	// Get should always return a valid, usable session. If the session does
	// not exist, it should be empty. error indicates that there was a
	// failure that we should not proceed from.
	Get(*http.Request) (*SessionData, error)
	// Save should store the updated session. If the session data is nil,
	// the session should be deleted.
	Save(http.ResponseWriter, *http.Request, *SessionData) error
}

// Handler wraps another http.Handler, protecting it with Passport
// authentication.
type Handler struct {
	// Server is the base URL of the Passport authorization server. If
	// empty the Foundation default is used.
	Server string
	// ClientID registered with the Passport server for this relying party.
	ClientID string
	// BaseURL is the base URL for this relying party. If it is not safe to
	// redirect the user to their original destination, they will be
	// redirected to this URL.
	BaseURL string
	// RedirectURL is the callback URL registered with the Passport server
	// for this relying party.
	RedirectURL string
	// Scopes to request. If empty the SDK defaults are used.
	Scopes []string

	// SessionStore is used for managing state that we need to persist
	// across requests. It needs to be able to store tokens plus a small
	// amount of flow data. Required.
	SessionStore SessionStore

	// HTTPClient overrides the HTTP client used for server calls.
	HTTPClient *http.Client
}

// Wrap returns an http.Handler that wraps the given http.Handler and
// provides Passport authentication.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.SessionStore == nil {
			slog.ErrorContext(r.Context(), "Uninitialized session store", baseLogAttr)
			http.Error(w, "Uninitialized session store", http.StatusInternalServerError)
			return
		}
		session, err := h.SessionStore.Get(r)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to get session", baseLogAttr, errAttr(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		client, err := h.client(session)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to build client", baseLogAttr, errAttr(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// Check for a user that's already authenticated
		user, token, err := h.authenticateExisting(r, client)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		} else if user != nil {
			if err := h.SessionStore.Save(w, r, session); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			// Authentication successful
			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Check for an authentication request finishing
		returnTo, err := h.authenticateCallback(r, client, session)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		} else if returnTo != "" {
			if err := h.SessionStore.Save(w, r, session); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			http.Redirect(w, r, returnTo, http.StatusSeeOther)
			return
		}

		// Not authenticated. Kick off an auth flow.
		redirectURL, err := h.startAuthentication(r, client)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := h.SessionStore.Save(w, r, session); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	})
}

// authenticateExisting returns (user, token, nil) if the session holds a
// usable token, (nil, "", error) if a fatal error occurs, or (nil, "", nil)
// if the user is not authenticated but no fatal error occurred.
//
// This may modify the session via the client if a token is refreshed, so it
// must be saved afterward.
func (h *Handler) authenticateExisting(r *http.Request, client *passport.Client) (*passport.User, string, error) {
	ctx := r.Context()

	ok, err := client.IsAuthenticated(ctx)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", nil
	}

	user, err := client.Userinfo(ctx)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", nil
	}

	token, err := client.AccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// authenticateCallback returns (returnTo, nil) if the user is authenticated,
// ("", error) if a fatal error occurs, or ("", nil) if this request is not a
// callback.
//
// This modifies the session via the client, so it must be saved afterward.
func (h *Handler) authenticateCallback(r *http.Request, client *passport.Client, session *SessionData) (string, error) {
	if r.Method != http.MethodGet {
		return "", nil
	}

	q := r.URL.Query()

	// If state or code are missing, this is not a callback
	if q.Get("state") == "" && q.Get("error") == "" {
		return "", nil
	}
	if q.Get("code") == "" && q.Get("error") == "" {
		return "", nil
	}
	if session.State == "" {
		return "", nil
	}

	_, returnTo, err := client.HandleCallback(r.Context(), q)
	if err != nil {
		return "", err
	}

	if returnTo == "" {
		returnTo = h.BaseURL
	}

	return returnTo, nil
}

func (h *Handler) startAuthentication(r *http.Request, client *passport.Client) (string, error) {
	ctx := r.Context()

	// drop any stale tokens before restarting the flow
	if err := client.Logout(ctx); err != nil {
		return "", err
	}

	returnTo := ""
	if r.Method == http.MethodGet {
		returnTo = r.URL.RequestURI()
	}

	return client.Login(ctx, returnTo)
}

func (h *Handler) client(session *SessionData) (*passport.Client, error) {
	return passport.New(passport.Config{
		ClientID:    h.ClientID,
		RedirectURI: h.RedirectURL,
		Server:      h.Server,
		Scopes:      h.Scopes,
		Store:       &sessionKeystore{data: session},
		HTTPClient:  h.HTTPClient,
		Logger:      slog.Default().With(baseLogAttr),
	})
}

// UserFromContext returns the authenticated user for the given request
// context. The request must have passed through the middleware.
func UserFromContext(ctx context.Context) *passport.User {
	user, ok := ctx.Value(userContextKey{}).(*passport.User)
	if !ok {
		return nil
	}
	return user
}

// AccessTokenFromContext returns the bearer token for the given request
// context, or the empty string if the request is not authenticated.
func AccessTokenFromContext(ctx context.Context) string {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok {
		return ""
	}
	return token
}
