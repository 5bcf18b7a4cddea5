package track

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/model"
)

// fakeBackend simulates the tracking backend's documented HTTP contract.
type fakeBackend struct {
	t *testing.T

	tracks        map[string]*model.Track
	registerCalls int
	rateLimited   bool

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{t: t, tracks: map[string]*model.Track{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/provision", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			DeviceID string `json:"deviceId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Email)
		require.NotEmpty(t, req.DeviceID)
		json.NewEncoder(w).Encode(map[string]string{"apiKey": "key-" + req.DeviceID})
	})
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		b.registerCalls++
		if r.Header.Get("Authorization") != "Bearer key-1" {
			http.Error(w, `{"error":"bad api key"}`, http.StatusUnauthorized)
			return
		}
		if b.rateLimited {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"hint": "free tier allows 10 tracked sends per day; upgrade for more",
			})
			return
		}
		var req struct {
			TrackingID string `json:"trackingId"`
			Sender     string `json:"senderEmail"`
			Recipient  string `json:"recipientEmail"`
			Subject    string `json:"emailSubject"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		b.tracks[req.TrackingID] = &model.Track{
			TrackingID: req.TrackingID,
			Recipient:  req.Recipient,
			Subject:    req.Subject,
			CreatedAt:  time.Now(),
		}
		json.NewEncoder(w).Encode(map[string]string{"trackingId": req.TrackingID})
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		track, ok := b.tracks[r.URL.Query().Get("id")]
		if !ok {
			http.Error(w, `{"error":"unknown tracking id"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(track)
	})
	mux.HandleFunc("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
		dash := model.Dashboard{Tracks: []model.Track{}}
		for _, track := range b.tracks {
			dash.Tracks = append(dash.Tracks, *track)
			dash.Stats.TotalSent++
			if track.OpenCount > 0 {
				dash.Stats.TotalOpened++
			}
		}
		json.NewEncoder(w).Encode(dash)
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) client() *Client {
	return NewClient(b.server.URL, zap.NewNop()).WithIdentity("key-1", "me@co.com")
}

func TestProvision(t *testing.T) {
	backend := newFakeBackend(t)
	client := NewClient(backend.server.URL, zap.NewNop())

	apiKey, err := client.Provision(context.Background(), "jane@co.com", "dev-9")
	require.NoError(t, err)
	require.Equal(t, "key-dev-9", apiKey)
}

func TestRegisterThenStatusZeroOpens(t *testing.T) {
	backend := newFakeBackend(t)
	client := backend.client()
	ctx := context.Background()

	id := NewTrackingID()
	ack, err := client.Register(ctx, Registration{
		TrackingID: id,
		Recipient:  "jane@co.com",
		Subject:    "hello",
	})
	require.NoError(t, err)
	require.Equal(t, id, ack.TrackingID)

	// Known but never opened: a normal zero-count result.
	track, err := client.Status(ctx, id)
	require.NoError(t, err)
	require.Zero(t, track.OpenCount)
	require.Empty(t, track.Opens)

	// Unknown id: a distinct NotFoundError.
	_, err = client.Status(ctx, "unknown-id")
	require.True(t, IsNotFound(err))
}

func TestRegisterRateLimited(t *testing.T) {
	backend := newFakeBackend(t)
	backend.rateLimited = true
	client := backend.client()

	_, err := client.Register(context.Background(), Registration{
		TrackingID: NewTrackingID(),
		Recipient:  "jane@co.com",
		Subject:    "hello",
	})
	require.True(t, IsRateLimited(err))
	require.Contains(t, err.Error(), "upgrade")
}

func TestRegisterTruncatesSubject(t *testing.T) {
	backend := newFakeBackend(t)
	client := backend.client()

	long := make([]rune, 0, 400)
	for i := 0; i < 400; i++ {
		long = append(long, 'ä')
	}

	id := NewTrackingID()
	_, err := client.Register(context.Background(), Registration{
		TrackingID: id,
		Recipient:  "jane@co.com",
		Subject:    string(long),
	})
	require.NoError(t, err)
	require.Len(t, []rune(backend.tracks[id].Subject), maxSubjectRunes)
}

func TestRegisterBackendError(t *testing.T) {
	backend := newFakeBackend(t)
	client := NewClient(backend.server.URL, zap.NewNop()).WithIdentity("wrong-key", "me@co.com")

	_, err := client.Register(context.Background(), Registration{
		TrackingID: NewTrackingID(),
		Recipient:  "jane@co.com",
		Subject:    "hello",
	})
	var be *BackendError
	require.ErrorAs(t, err, &be)
	require.Equal(t, http.StatusUnauthorized, be.Status)
	require.Contains(t, be.Body, "bad api key")
}

func TestDashboardAndResolvers(t *testing.T) {
	backend := newFakeBackend(t)
	client := backend.client()
	ctx := context.Background()

	_, err := client.Register(ctx, Registration{
		TrackingID: NewTrackingID(), Recipient: "jane@co.com", Subject: "a",
	})
	require.NoError(t, err)

	dash, err := client.Dashboard(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, dash.Stats.TotalSent)
	require.Len(t, dash.Tracks, 1)

	latest, err := client.ResolveLatest(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "jane@co.com", latest.Recipient)

	// Case-insensitive recipient match.
	match, err := client.ResolveByRecipient(ctx, "JANE@CO.COM", 10)
	require.NoError(t, err)
	require.Equal(t, "jane@co.com", match.Recipient)

	_, err = client.ResolveByRecipient(ctx, "nobody@co.com", 10)
	require.True(t, IsNoMatch(err))
}

func TestResolveLatestEmptyHistory(t *testing.T) {
	backend := newFakeBackend(t)
	client := backend.client()

	_, err := client.ResolveLatest(context.Background(), 10)
	require.True(t, IsNoMatch(err))
	require.False(t, IsNotFound(err))
}
