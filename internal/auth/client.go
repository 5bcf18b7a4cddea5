package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// expirySkew treats access tokens as expired slightly early so a token that
// is about to die is never used mid-request.
const expirySkew = 30 * time.Second

// Client is an authenticated handle produced by the silent-refresh path. It
// exposes the bearer token and identity the mail and tracking clients need.
type Client struct {
	accessToken string
	email       string
	apiKey      string
}

// Token returns the current provider bearer token.
func (c *Client) Token() string { return c.accessToken }

// Email returns the authenticated account address.
func (c *Client) Email() string { return c.email }

// APIKey returns the tracking backend API key. Empty in the
// partially-provisioned state.
func (c *Client) APIKey() string { return c.apiKey }

// Client returns an authenticated handle, refreshing the access token first
// if it has expired. The refreshed token is persisted before it is handed
// out, so a crash between refresh and use does not force re-authentication.
//
// Refresh rejection surfaces ReauthRequiredError and leaves the store
// untouched: the refresh token might still be valid and only an explicit
// logout clears the record.
func (f *Flow) Client(ctx context.Context) (*Client, error) {
	cred, err := f.store.Load()
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Tokens.RefreshToken == "" {
		return nil, &NotAuthenticatedError{}
	}

	if time.Now().After(cred.Tokens.Expiry.Add(-expirySkew)) {
		data := url.Values{}
		data.Set("refresh_token", cred.Tokens.RefreshToken)
		data.Set("client_id", cred.ClientID)
		data.Set("client_secret", cred.ClientSecret)
		data.Set("grant_type", "refresh_token")

		tokens, err := f.postToken(ctx, data)
		if err != nil {
			return nil, &ReauthRequiredError{Err: err}
		}

		cred.Tokens.AccessToken = tokens.AccessToken
		cred.Tokens.Expiry = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		// The provider does not reissue the refresh token on refresh
		// unless it chooses to rotate it.
		if tokens.RefreshToken != "" {
			cred.Tokens.RefreshToken = tokens.RefreshToken
		}

		if err := f.store.Save(cred); err != nil {
			return nil, fmt.Errorf("persisting refreshed token: %w", err)
		}
		f.logger.Debug("access token refreshed",
			zap.Time("expiry", cred.Tokens.Expiry))
	}

	return &Client{
		accessToken: cred.Tokens.AccessToken,
		email:       cred.Email,
		apiKey:      cred.BackendAPIKey,
	}, nil
}
