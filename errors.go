package passport

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned by calls that require an established
// session when no usable access token is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenErrorCode are the error types the token endpoint can return.
type TokenErrorCode string

// https://tools.ietf.org/html/rfc6749#section-5.2
const (
	TokenErrorCodeInvalidRequest       TokenErrorCode = "invalid_request"
	TokenErrorCodeInvalidClient        TokenErrorCode = "invalid_client"
	TokenErrorCodeInvalidGrant         TokenErrorCode = "invalid_grant"
	TokenErrorCodeUnauthorizedClient   TokenErrorCode = "unauthorized_client"
	TokenErrorCodeUnsupportedGrantType TokenErrorCode = "unsupported_grant_type"
	TokenErrorCodeInvalidScope         TokenErrorCode = "invalid_scope"
)

// TokenError represents an error returned from the token endpoint.
//
// https://tools.ietf.org/html/rfc6749#section-5.2
type TokenError struct {
	// ErrorCode indicates the type of error that occurred
	ErrorCode TokenErrorCode `json:"error,omitempty"`
	// Description is the human-readable error_description, if the server
	// sent one.
	Description string `json:"error_description,omitempty"`
	// ErrorURI optionally points at a page with more information.
	ErrorURI string `json:"error_uri,omitempty"`
	// Cause wraps the underlying transport error, if this error should be
	// unwrappable.
	Cause error `json:"-"`
}

func (t *TokenError) Error() string {
	if t.Description == "" {
		return fmt.Sprintf("%s error in token request", t.ErrorCode)
	}
	return fmt.Sprintf("%s error in token request: %s", t.ErrorCode, t.Description)
}

func (t *TokenError) Unwrap() error {
	return t.Cause
}

// AuthError is the error the authorization endpoint passed back on the
// callback redirect, via the error and error_description query parameters.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.2.1
type AuthError struct {
	Code        string
	Description string
}

func (a *AuthError) Error() string {
	if a.Description == "" {
		return fmt.Sprintf("%s error in authorization request", a.Code)
	}
	return fmt.Sprintf("%s error in authorization request: %s", a.Code, a.Description)
}

// parseExchangeError maps oauth2 transport errors to our types. Error-shaped
// JSON responses from the token endpoint become a *TokenError; anything else
// is passed through wrapped.
func parseExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te := &TokenError{
			ErrorCode:   TokenErrorCode(re.ErrorCode),
			Description: re.ErrorDescription,
			ErrorURI:    re.ErrorURI,
			Cause:       err,
		}
		if te.ErrorCode == "" {
			// server didn't return the RFC 6749 shape, fall back to the
			// response body
			te.ErrorCode = TokenErrorCodeInvalidRequest
			te.Description = strings.TrimSpace(string(re.Body))
		}
		return te
	}
	return fmt.Errorf("token exchange: %w", err)
}
