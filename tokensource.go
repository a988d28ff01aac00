package passport

import (
	"context"

	"golang.org/x/oauth2"
)

type storeTokenSource struct {
	ctx context.Context
	c   *Client
}

// TokenSource returns an oauth2.TokenSource view over the managed session,
// so hosts can hand the session to anything built on the oauth2 package
// (oauth2.NewClient and friends). Refreshing is handled by the Client, not
// by the oauth2 transport, keeping the failed-refresh semantics intact.
//
// The passed context is used for all token reads and refreshes, as the
// oauth2.TokenSource interface does not accept one per call.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, c: c}
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	at, err := s.c.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if at == "" {
		return nil, ErrNotAuthenticated
	}

	return &oauth2.Token{
		AccessToken: at,
		TokenType:   "Bearer",
		Expiry:      s.c.expiryTime(s.ctx),
	}, nil
}
