package passport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aethex-foundation/passport-go/keystore"
)

// mockPassportServer mocks out just enough of a Passport authorization
// server for tests: the token and userinfo endpoints, with configurable
// failure responses and recording of everything the client sends.
type mockPassportServer struct {
	baseURL string
	mux     *http.ServeMux

	validCode    string
	accessToken  string
	refreshToken string
	expiresIn    int
	user         User

	// tokenStatus, when non-zero, makes the token endpoint fail with that
	// status and an RFC 6749 error body.
	tokenStatus int
	// userinfoStatus, when non-zero, makes the userinfo endpoint return
	// that status with no body.
	userinfoStatus int

	tokenRequests []url.Values
	userinfoAuths []string
}

func newMockPassportServer() *mockPassportServer {
	s := &mockPassportServer{
		validCode:    "valid-code",
		accessToken:  "at1",
		refreshToken: "rt1",
		expiresIn:    3600,
		user:         User{Sub: "user-1", Username: "tester", Email: "tester@example.com"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth/token", s.handleToken)
	mux.HandleFunc("GET /api/oauth/userinfo", s.handleUserinfo)
	s.mux = mux

	return s
}

func startMockPassportServer(t *testing.T) *mockPassportServer {
	t.Helper()

	server := newMockPassportServer()
	svr := httptest.NewServer(server.mux)
	t.Cleanup(svr.Close)
	server.baseURL = svr.URL

	return server
}

func (s *mockPassportServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.tokenRequests = append(s.tokenRequests, r.PostForm)

	w.Header().Set("Content-Type", "application/json")

	if s.tokenStatus != 0 {
		w.WriteHeader(s.tokenStatus)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "grant rejected",
		})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != s.validCode {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "unknown code"})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request", "error_description": "refresh_token required"})
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  s.accessToken,
		"token_type":    "Bearer",
		"expires_in":    s.expiresIn,
		"refresh_token": s.refreshToken,
		"scope":         "openid profile email",
	})
}

func (s *mockPassportServer) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	s.userinfoAuths = append(s.userinfoAuths, auth)

	if s.userinfoStatus != 0 {
		w.WriteHeader(s.userinfoStatus)
		return
	}

	if auth != "Bearer "+s.accessToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.user); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// newTestClient builds a client against the mock server, backed by a fresh
// memory store.
func newTestClient(t *testing.T, server *mockPassportServer) (*Client, *keystore.Memory) {
	t.Helper()

	store := keystore.NewMemory()
	client, err := New(Config{
		ClientID:    "test_app",
		RedirectURI: "https://app.test/cb",
		Server:      server.baseURL,
		Store:       store,
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, store
}

func mustGet(t *testing.T, store keystore.Store, key string) string {
	t.Helper()
	v, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("getting %s: %v", key, err)
	}
	return v
}

func mustSet(t *testing.T, store keystore.Store, key, value string) {
	t.Helper()
	if err := store.Set(context.Background(), key, value); err != nil {
		t.Fatalf("setting %s: %v", key, err)
	}
}

func fmtMillis(v int64) string {
	return fmt.Sprintf("%d", v)
}
