package model

import "time"

// TokenSet holds the OAuth tokens issued by the mail provider. The refresh
// token is long-lived and is the authority for re-authentication; the access
// token and its expiry are short-lived and replaced on every refresh.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Credential is the single per-installation authorization record. It combines
// the OAuth application identity, the provider tokens, and the tracking
// backend's API key.
type Credential struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`

	Tokens TokenSet `json:"tokens"`

	// Email is the authenticated account address, fetched once at
	// authorization time and cached thereafter.
	Email string `json:"email"`

	// DeviceID is minted once per installation and sent to the backend
	// for provisioning. Stable for the installation's lifetime.
	DeviceID string `json:"device_id"`

	// BackendAPIKey is issued by the tracking backend in exchange for
	// (Email, DeviceID). Required for every tracking call.
	BackendAPIKey string `json:"backend_api_key"`
}

// IsAuthenticated reports whether the record is usable end to end: a refresh
// token for the provider and an API key for the backend. A record with only
// the refresh token is partially provisioned (see PartiallyProvisioned).
func (c *Credential) IsAuthenticated() bool {
	return c != nil && c.Tokens.RefreshToken != "" && c.BackendAPIKey != ""
}

// PartiallyProvisioned reports the recoverable half-done state: the OAuth
// exchange succeeded but backend provisioning did not. Re-running login
// completes it.
func (c *Credential) PartiallyProvisioned() bool {
	return c != nil && c.Tokens.RefreshToken != "" && c.BackendAPIKey == ""
}
