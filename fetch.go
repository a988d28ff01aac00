package passport

import (
	"net/http"
)

// Do performs req with the session's bearer token injected into the
// Authorization header, overriding any value already set. Unlike Userinfo
// this is expected to be called when the host already believes a session
// exists, so a missing token fails fast with ErrNotAuthenticated rather than
// silently proceeding. The response is returned untouched for caller-specific
// status handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	at, err := c.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}
	if at == "" {
		return nil, ErrNotAuthenticated
	}

	req.Header.Set("Authorization", "Bearer "+at)

	return c.httpClient.Do(req)
}
