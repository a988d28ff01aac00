// Package passport implements an OAuth 2.0 Authorization Code with PKCE
// client for the AeThex Passport service. It handles flow initiation,
// callback validation, token storage and refresh, and identity lookup,
// independent of any HTTP framework. Hosts decide how navigation happens:
// Login and LogoutURL return URLs rather than performing redirects.
package passport

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aethex-foundation/passport-go/keystore"
	"golang.org/x/oauth2"
)

const (
	// DefaultServer is the Foundation authorization server used when no
	// server is configured.
	DefaultServer = "https://aethex.foundation"

	authorizePath = "/api/oauth/authorize"
	tokenPath     = "/api/oauth/token"
	userinfoPath  = "/api/oauth/userinfo"
	logoutPath    = "/logout"
)

// Storage keys for session artifacts. Prefixed so they do not collide with
// host-application keys sharing the same store.
const (
	KeyAccessToken  = "aethex_access_token"
	KeyRefreshToken = "aethex_refresh_token"
	KeyTokenExpiry  = "aethex_token_expiry"
	KeyCodeVerifier = "aethex_code_verifier"
	KeyOAuthState   = "aethex_oauth_state"
	KeyReturnTo     = "aethex_return_to"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"openid", "profile", "email"}

// expirySkew is how long before the recorded expiry a token is treated as
// stale. Covers clock skew between us and the server, plus the time an
// in-flight request spends on the wire.
const expirySkew = 60 * time.Second

// Config holds the construction-time configuration for a Client. ClientID,
// RedirectURI and Store are required.
type Config struct {
	// ClientID is the identifier registered with the Passport server.
	ClientID string
	// RedirectURI is the callback URL registered for this client.
	RedirectURI string
	// Server is the base URL of the Passport authorization server.
	// Defaults to DefaultServer.
	Server string
	// Scopes to request. Defaults to DefaultScopes.
	Scopes []string
	// Store persists session artifacts across requests. Required.
	Store keystore.Store
	// HTTPClient is used for token and userinfo requests. Defaults to a
	// client with a 10 second timeout.
	HTTPClient *http.Client
	// Logger receives debug/warning output. Defaults to discarding it.
	Logger *slog.Logger
}

// Client drives the Passport authorization code flow for a single session.
// A Client is safe for use from multiple goroutines; refreshes are
// serialized so concurrent callers cannot race a rotating refresh token.
type Client struct {
	store      keystore.Store
	o2cfg      oauth2.Config
	server     string
	httpClient *http.Client
	logger     *slog.Logger

	now func() time.Time

	refreshMu sync.Mutex
}

// New creates a Client from the passed configuration.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID must be provided")
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("redirect URI must be provided")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store must be provided")
	}

	server := strings.TrimSuffix(cfg.Server, "/")
	if server == "" {
		server = DefaultServer
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	c := &Client{
		store:  cfg.Store,
		server: server,
		o2cfg: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  server + authorizePath,
				TokenURL: server + tokenPath,
				// public client, client_id goes in the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURI,
			Scopes:      scopes,
		},
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(discardHandler{})
	}

	return c, nil
}

// Login starts an authorization code flow. It generates and persists the
// PKCE verifier and anti-CSRF state, stores returnTo (if non-empty) as the
// post-login destination, and returns the URL the user must be sent to. All
// storage writes complete before the URL is returned.
func (c *Client) Login(ctx context.Context, returnTo string) (string, error) {
	verifier := generateCodeVerifier()
	state := generateState()

	if err := c.store.Set(ctx, KeyCodeVerifier, verifier); err != nil {
		return "", fmt.Errorf("persisting code verifier: %w", err)
	}
	if err := c.store.Set(ctx, KeyOAuthState, state); err != nil {
		return "", fmt.Errorf("persisting state: %w", err)
	}
	if returnTo != "" {
		if err := c.store.Set(ctx, KeyReturnTo, returnTo); err != nil {
			return "", fmt.Errorf("persisting return_to: %w", err)
		}
	}

	return c.o2cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// HandleCallback completes the flow from the query parameters the server
// redirected back with. The stored verifier and state are deleted once the
// callback has run, regardless of outcome, so neither can be replayed.
//
// On success it returns the authenticated user and the stored post-login
// destination, if one was set at Login time. The caller is responsible for
// navigating to returnTo when it is non-empty.
func (c *Client) HandleCallback(ctx context.Context, query url.Values) (user *User, returnTo string, retErr error) {
	if errCode := query.Get("error"); errCode != "" {
		return nil, "", &AuthError{Code: errCode, Description: query.Get("error_description")}
	}

	code := query.Get("code")
	if code == "" {
		return nil, "", fmt.Errorf("no authorization code in callback")
	}

	// Single use: once the callback has consumed the verifier and state,
	// they must not survive, even on the failure paths below.
	defer func() {
		if err := c.store.Delete(ctx, KeyOAuthState); err != nil && retErr == nil {
			retErr = fmt.Errorf("clearing state: %w", err)
		}
		if err := c.store.Delete(ctx, KeyCodeVerifier); err != nil && retErr == nil {
			retErr = fmt.Errorf("clearing code verifier: %w", err)
		}
	}()

	storedState, err := c.store.Get(ctx, KeyOAuthState)
	if err != nil {
		return nil, "", fmt.Errorf("reading stored state: %w", err)
	}
	// Validate state before anything touches the token endpoint. A forged
	// redirect must never cause a code exchange.
	if storedState == "" || storedState != query.Get("state") {
		return nil, "", fmt.Errorf("invalid state, possible CSRF")
	}

	verifier, err := c.store.Get(ctx, KeyCodeVerifier)
	if err != nil {
		return nil, "", fmt.Errorf("reading code verifier: %w", err)
	}
	if verifier == "" {
		return nil, "", fmt.Errorf("no code verifier stored, PKCE flow incomplete")
	}

	tok, err := c.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, "", err
	}

	if err := c.storeTokens(ctx, tok); err != nil {
		return nil, "", fmt.Errorf("persisting tokens: %w", err)
	}

	user, err = c.Userinfo(ctx)
	if err != nil {
		return nil, "", err
	}

	rt, err := c.store.Get(ctx, KeyReturnTo)
	if err != nil {
		return nil, "", fmt.Errorf("reading return_to: %w", err)
	}
	if rt != "" {
		if err := c.store.Delete(ctx, KeyReturnTo); err != nil {
			return nil, "", fmt.Errorf("clearing return_to: %w", err)
		}
	}

	return user, rt, nil
}

// Exchange redeems an authorization code for tokens, submitting the PKCE
// verifier alongside it. If the server rejects the exchange the returned
// error will be a *TokenError carrying the server's error code and
// description.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	tok, err := c.o2cfg.Exchange(c.o2ctx(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return nil, parseExchangeError(err)
	}
	return tok, nil
}

// LogoutURL returns the server's end-session URL. returnTo is where the
// server should send the user afterwards, typically the host's origin.
func (c *Client) LogoutURL(returnTo string) string {
	v := url.Values{}
	if returnTo != "" {
		v.Set("return_to", returnTo)
	}
	u := c.server + logoutPath
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// o2ctx threads our HTTP client into the oauth2 package for its requests.
func (c *Client) o2ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func generateCodeVerifier() string {
	randomBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, randomBytes); err != nil {
		panic(err) // this should never fail in a recoverable way
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes)
}

func generateCodeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	hashed := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(hashed)
}

func generateState() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
