package passport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// User is the identity returned by the userinfo endpoint. It is fetched on
// demand and never persisted by the SDK.
type User struct {
	// Sub is the stable subject identifier for the user.
	Sub      string `json:"sub"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Picture  string `json:"picture,omitempty"`
	// Profile is the URL of the user's Passport profile page.
	Profile string `json:"profile,omitempty"`
	Bio     string `json:"bio,omitempty"`
	// Links are the user's published social links, keyed by platform.
	Links map[string]string `json:"links,omitempty"`
}

// Userinfo fetches the authenticated identity. Absence of a session is a
// normal state, not a failure: it returns (nil, nil) when no usable access
// token exists, when the fetch fails transiently, or when the request cannot
// be completed at all. A 401 from the server means the token was actually
// rejected, so local token state is cleared before returning nil. Errors are
// only returned for storage backend failures.
func (c *Client) Userinfo(ctx context.Context) (*User, error) {
	at, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if at == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.server+userinfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+at)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport hiccup, the session may still be fine
		c.logger.DebugContext(ctx, "userinfo request failed", "err", err)
		return nil, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// token rejected outright, the session is dead
		c.logger.DebugContext(ctx, "userinfo returned 401, clearing session")
		if err := c.clearTokens(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// unknown, try later. Tokens are preserved.
		c.logger.DebugContext(ctx, "unexpected userinfo response", "status", resp.StatusCode)
		return nil, nil
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		c.logger.DebugContext(ctx, "failed decoding userinfo response", "err", err)
		return nil, nil
	}

	return &u, nil
}
