package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/credential"
	"github.com/dtran/mailtrack/internal/model"
)

// fakeProvider simulates the OAuth provider: token exchange, token refresh,
// and the identity endpoint.
type fakeProvider struct {
	t *testing.T

	email        string
	accessToken  string
	refreshToken string

	exchangeCalls int
	refreshCalls  int
	rejectRefresh bool

	server *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{
		t:            t,
		email:        "jane@co.com",
		accessToken:  "at-fresh",
		refreshToken: "rt-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			p.exchangeCalls++
			if r.Form.Get("code") != "good-code" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
		case "refresh_token":
			p.refreshCalls++
			if p.rejectRefresh || r.Form.Get("refresh_token") != p.refreshToken {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
		default:
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  p.accessToken,
			"refresh_token": p.refreshToken,
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+p.accessToken {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"email": p.email})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) endpoints() Endpoints {
	return Endpoints{
		AuthURL:     p.server.URL + "/auth",
		TokenURL:    p.server.URL + "/token",
		UserinfoURL: p.server.URL + "/userinfo",
	}
}

type fakeProvisioner struct {
	apiKey string
	err    error
	calls  int

	gotEmail    string
	gotDeviceID string
}

func (f *fakeProvisioner) Provision(_ context.Context, email, deviceID string) (string, error) {
	f.calls++
	f.gotEmail = email
	f.gotDeviceID = deviceID
	if f.err != nil {
		return "", f.err
	}
	return f.apiKey, nil
}

// approveInBrowser returns an OpenBrowser hook that plays the user approving
// consent: it parses the consent URL and hits the local callback with a code.
func approveInBrowser(t *testing.T, code string) func(string) error {
	return func(consentURL string) error {
		u, err := url.Parse(consentURL)
		require.NoError(t, err)
		q := u.Query()

		cb := fmt.Sprintf("%s?code=%s&state=%s",
			q.Get("redirect_uri"), url.QueryEscape(code), url.QueryEscape(q.Get("state")))
		resp, err := http.Get(cb)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func denyInBrowser(t *testing.T) func(string) error {
	return func(consentURL string) error {
		u, err := url.Parse(consentURL)
		require.NoError(t, err)
		q := u.Query()

		cb := fmt.Sprintf("%s?error=access_denied&state=%s",
			q.Get("redirect_uri"), url.QueryEscape(q.Get("state")))
		resp, err := http.Get(cb)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestFlow(t *testing.T, provider *fakeProvider, provisioner Provisioner) (*Flow, credential.Store) {
	store := credential.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	flow := NewFlow(store, provider.endpoints(), provisioner, freePort(t), zap.NewNop())
	return flow, store
}

func TestLoginSuccess(t *testing.T) {
	provider := newFakeProvider(t)
	provisioner := &fakeProvisioner{apiKey: "key-1"}
	flow, store := newTestFlow(t, provider, provisioner)
	flow.OpenBrowser = approveInBrowser(t, "good-code")

	cred, err := flow.Login(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	require.True(t, cred.IsAuthenticated())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "at-fresh", loaded.Tokens.AccessToken)
	require.Equal(t, "rt-1", loaded.Tokens.RefreshToken)
	require.Equal(t, "jane@co.com", loaded.Email)
	require.Equal(t, "key-1", loaded.BackendAPIKey)
	require.NotEmpty(t, loaded.DeviceID)
	require.True(t, credential.IsAuthenticated(store))

	require.Equal(t, 1, provider.exchangeCalls)
	require.Equal(t, 1, provisioner.calls)
	require.Equal(t, "jane@co.com", provisioner.gotEmail)
	require.Equal(t, loaded.DeviceID, provisioner.gotDeviceID)
}

func TestLoginPartialProvisioning(t *testing.T) {
	provider := newFakeProvider(t)
	provisioner := &fakeProvisioner{err: fmt.Errorf("backend down")}
	flow, store := newTestFlow(t, provider, provisioner)
	flow.OpenBrowser = approveInBrowser(t, "good-code")

	cred, err := flow.Login(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	require.True(t, cred.PartiallyProvisioned())

	// OAuth half persisted, but the record is not fully authenticated.
	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "rt-1", loaded.Tokens.RefreshToken)
	require.Empty(t, loaded.BackendAPIKey)
	require.False(t, credential.IsAuthenticated(store))
}

func TestLoginKeepsDeviceIDAcrossRetries(t *testing.T) {
	provider := newFakeProvider(t)
	provisioner := &fakeProvisioner{err: fmt.Errorf("backend down")}
	flow, store := newTestFlow(t, provider, provisioner)
	flow.OpenBrowser = approveInBrowser(t, "good-code")

	_, err := flow.Login(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	first, err := store.Load()
	require.NoError(t, err)

	provisioner.err = nil
	provisioner.apiKey = "key-1"
	_, err = flow.Login(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	second, err := store.Load()
	require.NoError(t, err)

	require.Equal(t, first.DeviceID, second.DeviceID)
	require.Equal(t, "key-1", second.BackendAPIKey)
}

func TestLoginConsentDenied(t *testing.T) {
	provider := newFakeProvider(t)
	flow, _ := newTestFlow(t, provider, &fakeProvisioner{apiKey: "key-1"})
	flow.OpenBrowser = denyInBrowser(t)

	_, err := flow.Login(context.Background(), "cid", "csecret")
	require.Error(t, err)
	var te *TokenExchangeError
	require.ErrorAs(t, err, &te)
	require.Zero(t, provider.exchangeCalls)
}

func TestLoginBadCode(t *testing.T) {
	provider := newFakeProvider(t)
	flow, store := newTestFlow(t, provider, &fakeProvisioner{apiKey: "key-1"})
	flow.OpenBrowser = approveInBrowser(t, "stale-code")

	_, err := flow.Login(context.Background(), "cid", "csecret")
	var te *TokenExchangeError
	require.ErrorAs(t, err, &te)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoginListenerBindError(t *testing.T) {
	provider := newFakeProvider(t)
	flow, _ := newTestFlow(t, provider, &fakeProvisioner{apiKey: "key-1"})

	// Occupy the flow's port first.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", flow.port))
	require.NoError(t, err)
	defer l.Close()

	_, err = flow.Login(context.Background(), "cid", "csecret")
	var be *ListenerBindError
	require.ErrorAs(t, err, &be)
	require.Equal(t, flow.port, be.Port)
}

func TestLoginCancelledReleasesListener(t *testing.T) {
	provider := newFakeProvider(t)
	flow, store := newTestFlow(t, provider, &fakeProvisioner{apiKey: "key-1"})

	browserOpened := make(chan struct{})
	flow.OpenBrowser = func(string) error {
		close(browserOpened)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	loginErr := make(chan error, 1)
	go func() {
		_, err := flow.Login(ctx, "cid", "csecret")
		loginErr <- err
	}()

	// Cancel while the flow is blocked awaiting the callback.
	<-browserOpened
	cancel()
	require.ErrorIs(t, <-loginErr, context.Canceled)

	// The listener was released on the cancellation path: the port binds.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", flow.port))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestLoginIgnoresDuplicateCallback(t *testing.T) {
	provider := newFakeProvider(t)
	provisioner := &fakeProvisioner{apiKey: "key-1"}
	flow, _ := newTestFlow(t, provider, provisioner)

	// The "browser" delivers the code twice, as a user reloading the
	// callback page would. Both requests must complete and only the first
	// code counts.
	approve := approveInBrowser(t, "good-code")
	flow.OpenBrowser = func(consentURL string) error {
		if err := approve(consentURL); err != nil {
			return err
		}
		return approveInBrowser(t, "stale-code")(consentURL)
	}

	cred, err := flow.Login(context.Background(), "cid", "csecret")
	require.NoError(t, err)
	require.True(t, cred.IsAuthenticated())
	require.Equal(t, 1, provider.exchangeCalls)
}

func seedCredential(t *testing.T, store credential.Store, expiry time.Time) *model.Credential {
	cred := &model.Credential{
		ClientID:     "cid",
		ClientSecret: "csecret",
		Tokens: model.TokenSet{
			AccessToken:  "at-stale",
			RefreshToken: "rt-1",
			Expiry:       expiry,
		},
		Email:         "jane@co.com",
		DeviceID:      "dev-1",
		BackendAPIKey: "key-1",
	}
	require.NoError(t, store.Save(cred))
	return cred
}

func TestClientRefreshesExpiredTokenOnce(t *testing.T) {
	provider := newFakeProvider(t)
	flow, store := newTestFlow(t, provider, &fakeProvisioner{})
	seedCredential(t, store, time.Now().Add(-time.Hour))

	client, err := flow.Client(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-fresh", client.Token())
	require.Equal(t, "jane@co.com", client.Email())
	require.Equal(t, "key-1", client.APIKey())
	require.Equal(t, 1, provider.refreshCalls)

	// New expiry persisted before use.
	loaded, err := store.Load()
	require.NoError(t, err)
	require.True(t, loaded.Tokens.Expiry.After(time.Now()))
	require.Equal(t, "at-fresh", loaded.Tokens.AccessToken)

	// A second call within the new expiry triggers no further refresh.
	_, err = flow.Client(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, provider.refreshCalls)
}

func TestClientRevokedRefreshLeavesStoreUnchanged(t *testing.T) {
	provider := newFakeProvider(t)
	provider.rejectRefresh = true
	flow, store := newTestFlow(t, provider, &fakeProvisioner{})
	seedCredential(t, store, time.Now().Add(-time.Hour))

	before, err := store.Load()
	require.NoError(t, err)

	_, err = flow.Client(context.Background())
	require.True(t, IsReauthRequired(err))

	after, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestClientNotAuthenticated(t *testing.T) {
	provider := newFakeProvider(t)
	flow, _ := newTestFlow(t, provider, &fakeProvisioner{})

	_, err := flow.Client(context.Background())
	require.True(t, IsNotAuthenticated(err))
	require.Zero(t, provider.refreshCalls)
}

func TestClientSkipsRefreshWhenTokenValid(t *testing.T) {
	provider := newFakeProvider(t)
	flow, store := newTestFlow(t, provider, &fakeProvisioner{})
	seedCredential(t, store, time.Now().Add(time.Hour))

	client, err := flow.Client(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-stale", client.Token())
	require.Zero(t, provider.refreshCalls)
}
