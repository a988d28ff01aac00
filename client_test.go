package passport

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoginURL(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	authURL, err := client.Login(ctx, "/dashboard")
	if err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth URL %q: %v", authURL, err)
	}
	if !strings.HasPrefix(authURL, server.baseURL+"/api/oauth/authorize?") {
		t.Errorf("auth URL %q not rooted at the authorize endpoint", authURL)
	}

	q := u.Query()
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("want response_type code, got %q", got)
	}
	if got := q.Get("client_id"); got != "test_app" {
		t.Errorf("want client_id test_app, got %q", got)
	}
	if got := q.Get("redirect_uri"); got != "https://app.test/cb" {
		t.Errorf("want redirect_uri https://app.test/cb, got %q", got)
	}
	if got := q.Get("scope"); got != "openid profile email" {
		t.Errorf("want default scopes, got %q", got)
	}
	if got := q.Get("code_challenge_method"); got != "S256" {
		t.Errorf("want code_challenge_method S256, got %q", got)
	}

	// base64url SHA-256 of 32 random bytes is always 43 chars
	challenge := q.Get("code_challenge")
	if len(challenge) != 43 {
		t.Errorf("want 43 character challenge, got %d: %q", len(challenge), challenge)
	}

	verifier := mustGet(t, store, KeyCodeVerifier)
	if verifier == "" {
		t.Fatal("verifier not persisted")
	}
	sum := sha256.Sum256([]byte(verifier))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); challenge != want {
		t.Errorf("challenge %q is not S256 of the stored verifier (want %q)", challenge, want)
	}

	if got := mustGet(t, store, KeyOAuthState); got != q.Get("state") {
		t.Errorf("stored state %q does not match state in URL %q", got, q.Get("state"))
	}
	if got := mustGet(t, store, KeyReturnTo); got != "/dashboard" {
		t.Errorf("want stored return_to /dashboard, got %q", got)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	server.validCode = "abc123"
	client, store := newTestClient(t, server)

	mustSet(t, store, KeyOAuthState, "XYZ")
	mustSet(t, store, KeyCodeVerifier, "V1")

	before := time.Now()

	user, returnTo, err := client.HandleCallback(ctx, url.Values{
		"code":  []string{"abc123"},
		"state": []string{"XYZ"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if returnTo != "" {
		t.Errorf("want no return_to, got %q", returnTo)
	}
	if diff := cmp.Diff(&server.user, user); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}

	if len(server.tokenRequests) != 1 {
		t.Fatalf("want 1 token request, got %d", len(server.tokenRequests))
	}
	form := server.tokenRequests[0]
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Errorf("want grant_type authorization_code, got %q", got)
	}
	if got := form.Get("code"); got != "abc123" {
		t.Errorf("want code abc123, got %q", got)
	}
	if got := form.Get("code_verifier"); got != "V1" {
		t.Errorf("want code_verifier V1, got %q", got)
	}
	if got := form.Get("redirect_uri"); got != "https://app.test/cb" {
		t.Errorf("want redirect_uri https://app.test/cb, got %q", got)
	}
	if got := form.Get("client_id"); got != "test_app" {
		t.Errorf("want client_id test_app, got %q", got)
	}

	if got := mustGet(t, store, KeyAccessToken); got != "at1" {
		t.Errorf("want stored access token at1, got %q", got)
	}
	if got := mustGet(t, store, KeyRefreshToken); got != "rt1" {
		t.Errorf("want stored refresh token rt1, got %q", got)
	}

	expStr := mustGet(t, store, KeyTokenExpiry)
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		t.Fatalf("parsing stored expiry %q: %v", expStr, err)
	}
	wantExp := before.Add(time.Hour).UnixMilli()
	if exp < wantExp-10_000 || exp > wantExp+10_000 {
		t.Errorf("stored expiry %d not within 10s of now+1h (%d)", exp, wantExp)
	}

	// verifier and state are single use
	if got := mustGet(t, store, KeyOAuthState); got != "" {
		t.Errorf("state survived the callback: %q", got)
	}
	if got := mustGet(t, store, KeyCodeVerifier); got != "" {
		t.Errorf("verifier survived the callback: %q", got)
	}
}

func TestHandleCallbackReturnTo(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	mustSet(t, store, KeyOAuthState, "XYZ")
	mustSet(t, store, KeyCodeVerifier, "V1")
	mustSet(t, store, KeyReturnTo, "/after-login")

	_, returnTo, err := client.HandleCallback(ctx, url.Values{
		"code":  []string{"valid-code"},
		"state": []string{"XYZ"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if returnTo != "/after-login" {
		t.Errorf("want return_to /after-login, got %q", returnTo)
	}
	if got := mustGet(t, store, KeyReturnTo); got != "" {
		t.Errorf("return_to survived the callback: %q", got)
	}
}

func TestHandleCallbackServerError(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	mustSet(t, store, KeyOAuthState, "XYZ")
	mustSet(t, store, KeyCodeVerifier, "V1")

	_, _, err := client.HandleCallback(ctx, url.Values{
		"error":             []string{"access_denied"},
		"error_description": []string{"User declined"},
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !strings.Contains(err.Error(), "access_denied") {
		t.Errorf("error %q does not mention access_denied", err)
	}
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Errorf("want *AuthError, got %T", err)
	}

	if len(server.tokenRequests) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", len(server.tokenRequests))
	}
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	mustSet(t, store, KeyOAuthState, "XYZ")
	mustSet(t, store, KeyCodeVerifier, "V1")

	for _, state := range []string{"XYz", ""} {
		_, _, err := client.HandleCallback(ctx, url.Values{
			"code":  []string{"valid-code"},
			"state": []string{state},
		})
		if err == nil {
			t.Fatalf("state %q: want error, got nil", state)
		}
		if !strings.Contains(err.Error(), "invalid state") {
			t.Errorf("state %q: error %q does not mention invalid state", state, err)
		}

		// failure still consumes the artifacts, reseed for the next round
		if got := mustGet(t, store, KeyOAuthState); got != "" {
			t.Errorf("state survived a failed callback: %q", got)
		}
		if got := mustGet(t, store, KeyCodeVerifier); got != "" {
			t.Errorf("verifier survived a failed callback: %q", got)
		}
		mustSet(t, store, KeyOAuthState, "XYZ")
		mustSet(t, store, KeyCodeVerifier, "V1")
	}

	if len(server.tokenRequests) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", len(server.tokenRequests))
	}
}

func TestHandleCallbackMissingState(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	// verifier but no stored state - e.g. a replayed callback
	mustSet(t, store, KeyCodeVerifier, "V1")

	_, _, err := client.HandleCallback(ctx, url.Values{
		"code":  []string{"valid-code"},
		"state": []string{"XYZ"},
	})
	if err == nil || !strings.Contains(err.Error(), "invalid state") {
		t.Fatalf("want invalid state error, got %v", err)
	}
	if len(server.tokenRequests) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", len(server.tokenRequests))
	}
}

func TestHandleCallbackMissingVerifier(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, store := newTestClient(t, server)

	mustSet(t, store, KeyOAuthState, "XYZ")

	_, _, err := client.HandleCallback(ctx, url.Values{
		"code":  []string{"valid-code"},
		"state": []string{"XYZ"},
	})
	if err == nil || !strings.Contains(err.Error(), "PKCE") {
		t.Fatalf("want PKCE error, got %v", err)
	}
	if len(server.tokenRequests) != 0 {
		t.Errorf("token endpoint was called %d times, want 0", len(server.tokenRequests))
	}
}

func TestHandleCallbackNoCode(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	client, _ := newTestClient(t, server)

	_, _, err := client.HandleCallback(ctx, url.Values{})
	if err == nil || !strings.Contains(err.Error(), "no authorization code") {
		t.Fatalf("want no authorization code error, got %v", err)
	}
}

func TestExchangeError(t *testing.T) {
	ctx := context.Background()

	server := startMockPassportServer(t)
	server.tokenStatus = 400
	client, _ := newTestClient(t, server)

	_, err := client.Exchange(ctx, "some-code", "some-verifier")
	if err == nil {
		t.Fatal("want error, got nil")
	}

	var terr *TokenError
	if !errors.As(err, &terr) {
		t.Fatalf("want *TokenError, got %T: %v", err, err)
	}
	if terr.ErrorCode != TokenErrorCodeInvalidGrant {
		t.Errorf("want error code invalid_grant, got %q", terr.ErrorCode)
	}
	if terr.Description != "grant rejected" {
		t.Errorf("want description from server, got %q", terr.Description)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("want error for missing client ID")
	}
	if _, err := New(Config{ClientID: "x"}); err == nil {
		t.Error("want error for missing redirect URI")
	}
	if _, err := New(Config{ClientID: "x", RedirectURI: "y"}); err == nil {
		t.Error("want error for missing store")
	}
}

func TestLogoutURL(t *testing.T) {
	server := startMockPassportServer(t)
	client, _ := newTestClient(t, server)

	got := client.LogoutURL("https://app.test")
	want := server.baseURL + "/logout?return_to=" + url.QueryEscape("https://app.test")
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}

	if got := client.LogoutURL(""); got != server.baseURL+"/logout" {
		t.Errorf("want bare logout URL, got %q", got)
	}
}

func TestStateGeneration(t *testing.T) {
	a, b := generateState(), generateState()
	if a == b {
		t.Error("two generated states are identical")
	}
	if _, err := base64.RawURLEncoding.DecodeString(a); err != nil {
		t.Errorf("state %q is not base64url: %v", a, err)
	}
	if len(a) < 22 { // 16 bytes of entropy
		t.Errorf("state %q too short", a)
	}
}
