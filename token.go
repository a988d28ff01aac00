package passport

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// storeTokens writes the access token, refresh token, and absolute expiry
// (epoch milliseconds) as one logical unit. The expiry is always written with
// the access token; readers treat a missing half of the pair as no session.
func (c *Client) storeTokens(ctx context.Context, tok *oauth2.Token) error {
	if err := c.store.Set(ctx, KeyAccessToken, tok.AccessToken); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	if err := c.store.Set(ctx, KeyTokenExpiry, strconv.FormatInt(tok.Expiry.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("storing token expiry: %w", err)
	}
	if tok.RefreshToken != "" {
		if err := c.store.Set(ctx, KeyRefreshToken, tok.RefreshToken); err != nil {
			return fmt.Errorf("storing refresh token: %w", err)
		}
	}
	return nil
}

// AccessToken returns a currently valid access token, or the empty string if
// no session exists. If the stored token expires within the skew window a
// refresh is attempted first, so callers never receive a token about to go
// stale mid-request. A failed refresh tears the session down and returns the
// empty string.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	at, err := c.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	expStr, err := c.store.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return "", fmt.Errorf("reading token expiry: %w", err)
	}
	if at == "" || expStr == "" {
		return "", nil
	}

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		// corrupt expiry, the stored token can't be trusted
		if err := c.clearTokens(ctx); err != nil {
			return "", err
		}
		return "", nil
	}

	if c.now().UnixMilli() >= exp-expirySkew.Milliseconds() {
		return c.refreshAccessToken(ctx)
	}

	return at, nil
}

// refreshAccessToken redeems the stored refresh token for a new token pair.
// It returns the empty string when no refresh token is stored, or when the
// server rejects the refresh - in the latter case all token state is cleared
// first, so a dead session never lingers in a half-valid form. Transport
// failures are treated identically to rejections.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	rt, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}
	if rt == "" {
		return "", nil
	}

	tok, err := c.o2cfg.TokenSource(c.o2ctx(ctx), &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		c.logger.DebugContext(ctx, "token refresh failed, clearing session", "err", err)
		if cerr := c.clearTokens(ctx); cerr != nil {
			return "", cerr
		}
		return "", nil
	}

	if tok.RefreshToken == "" {
		// server didn't rotate, keep using the one we have
		tok.RefreshToken = rt
	}
	if err := c.storeTokens(ctx, tok); err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// IsAuthenticated reports whether a session exists that can produce a valid
// access token: either the stored token is still live, or a refresh token is
// present to silently repair an expired one on next use.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	at, err := c.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return false, fmt.Errorf("reading access token: %w", err)
	}
	expStr, err := c.store.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return false, fmt.Errorf("reading token expiry: %w", err)
	}
	if at == "" || expStr == "" {
		return false, nil
	}

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false, nil
	}
	if c.now().UnixMilli() < exp {
		return true, nil
	}

	rt, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return false, fmt.Errorf("reading refresh token: %w", err)
	}
	return rt != "", nil
}

// Logout clears all token state. It is a no-op when no session exists. The
// host should navigate to LogoutURL afterwards if the server-side session
// should end too.
func (c *Client) Logout(ctx context.Context) error {
	return c.clearTokens(ctx)
}

func (c *Client) clearTokens(ctx context.Context) error {
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyTokenExpiry} {
		if err := c.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return nil
}

// expiryTime returns the stored expiry as a time, zero if absent or invalid.
func (c *Client) expiryTime(ctx context.Context) time.Time {
	expStr, err := c.store.Get(ctx, KeyTokenExpiry)
	if err != nil || expStr == "" {
		return time.Time{}
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(exp)
}
