package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/credential"
	"github.com/dtran/mailtrack/internal/model"
)

// Scopes requested at consent time: send, compose, and identity read. No
// mailbox-reading capability is ever requested.
const oauthScopes = "https://www.googleapis.com/auth/gmail.send " +
	"https://www.googleapis.com/auth/gmail.compose " +
	"https://www.googleapis.com/auth/userinfo.email"

// Endpoints holds the provider URLs. Overridable so tests can point the flow
// at a local fake provider.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserinfoURL string
}

// GoogleEndpoints returns the production provider endpoints.
func GoogleEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserinfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

// Provisioner exchanges (email, deviceID) for a backend API key.
type Provisioner interface {
	Provision(ctx context.Context, email, deviceID string) (string, error)
}

// Flow drives the one-time browser-based authorization and the silent token
// refresh. A single Flow serves one login attempt at a time; there is no
// concurrent-login support.
type Flow struct {
	store       credential.Store
	endpoints   Endpoints
	provisioner Provisioner
	port        int
	logger      *zap.Logger

	// OpenBrowser launches the consent URL. Replaceable in tests; the raw
	// URL is always printed as a fallback for browserless environments.
	OpenBrowser func(url string) error

	// Out receives user-facing progress lines (consent URL, warnings).
	Out io.Writer

	httpClient *http.Client
}

// NewFlow creates an authorization flow bound to the given store and backend
// provisioner. port is the fixed local callback port.
func NewFlow(store credential.Store, endpoints Endpoints, provisioner Provisioner, port int, logger *zap.Logger) *Flow {
	return &Flow{
		store:       store,
		endpoints:   endpoints,
		provisioner: provisioner,
		port:        port,
		logger:      logger,
		OpenBrowser: openBrowser,
		Out:         io.Discard,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Login runs the full authorization sequence: bind the local listener, send
// the user to the consent page, wait for exactly one callback, exchange the
// code, fetch the account identity, and provision the tracking backend.
//
// Backend provisioning failure is non-fatal: the OAuth half of the credential
// is persisted anyway and a warning is surfaced, leaving the recoverable
// partially-provisioned state. Re-running login completes it.
func (f *Flow) Login(ctx context.Context, clientID, clientSecret string) (*model.Credential, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("oauth client id and secret are required")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.port))
	if err != nil {
		return nil, &ListenerBindError{Port: f.port, Err: err}
	}

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", f.port)
	state := uuid.NewString()

	code, err := f.awaitCallback(ctx, listener, clientID, redirectURI, state)
	if err != nil {
		return nil, err
	}

	tokens, err := f.exchangeCode(ctx, clientID, clientSecret, redirectURI, code)
	if err != nil {
		return nil, &TokenExchangeError{Err: err}
	}

	email, err := f.fetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	f.logger.Info("authorized", zap.String("email", email))

	cred := &model.Credential{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Tokens: model.TokenSet{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			Expiry:       time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
		},
		Email:    email,
		DeviceID: f.deviceID(),
	}

	apiKey, provErr := f.provisioner.Provision(ctx, email, cred.DeviceID)
	if provErr != nil {
		f.logger.Warn("backend provisioning failed", zap.Error(provErr))
		fmt.Fprintf(f.Out, "warning: tracking backend provisioning failed (%v); run login again to retry\n", provErr)
	} else {
		cred.BackendAPIKey = apiKey
	}

	if err := f.store.Save(cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	return cred, nil
}

// awaitCallback serves the bound listener until exactly one request delivers
// an authorization code (or an error), then tears the listener down. The
// listener is released on every exit path, including cancellation.
func (f *Flow) awaitCallback(ctx context.Context, listener net.Listener, clientID, redirectURI, state string) (string, error) {
	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	// Only the first callback counts; later requests (reloads, duplicate
	// redirects) must not block their handlers on the full channel.
	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "Authorization failed. You may close this window.", http.StatusBadRequest)
			deliver(callbackResult{err: fmt.Errorf("consent denied: %s", q.Get("error"))})
		case q.Get("state") != state:
			http.Error(w, "State mismatch. You may close this window.", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("state parameter mismatch")})
		case q.Get("code") == "":
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("callback carried no authorization code")})
		default:
			fmt.Fprintln(w, "Authorized. You may close this window and return to the terminal.")
			deliver(callbackResult{code: q.Get("code")})
		}
	})

	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	consentURL := f.consentURL(clientID, redirectURI, state)
	fmt.Fprintf(f.Out, "Opening browser for authorization. If it does not open, visit:\n%s\n", consentURL)
	if err := f.OpenBrowser(consentURL); err != nil {
		f.logger.Warn("opening browser failed", zap.Error(err))
	}

	select {
	case res := <-results:
		if res.err != nil {
			return "", &TokenExchangeError{Err: res.err}
		}
		return res.code, nil
	case err := <-serveErr:
		return "", &ListenerBindError{Port: f.port, Err: err}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// consentURL builds the provider authorization URL: offline access so a
// refresh token is issued, and forced re-consent so a refresh token is issued
// even on repeat logins.
func (f *Flow) consentURL(clientID, redirectURI, state string) string {
	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", oauthScopes)
	params.Set("state", state)
	params.Set("access_type", "offline")
	params.Set("prompt", "consent")
	return f.endpoints.AuthURL + "?" + params.Encode()
}

func (f *Flow) exchangeCode(ctx context.Context, clientID, clientSecret, redirectURI, code string) (*tokenResponse, error) {
	data := url.Values{}
	data.Set("code", code)
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("redirect_uri", redirectURI)
	data.Set("grant_type", "authorization_code")
	return f.postToken(ctx, data)
}

func (f *Flow) postToken(ctx context.Context, data url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoints.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}
	return &tokens, nil
}

// fetchIdentity queries the provider's identity endpoint for the account
// email using a bearer access token.
func (f *Flow) fetchIdentity(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoints.UserinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling identity endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading identity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("parsing identity response: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("identity endpoint returned no email")
	}
	return info.Email, nil
}

// deviceID reuses the installation's stored device identifier when one
// exists so retried logins keep a stable identity with the backend.
func (f *Flow) deviceID() string {
	if cred, err := f.store.Load(); err == nil && cred != nil && cred.DeviceID != "" {
		return cred.DeviceID
	}
	return uuid.NewString()
}
