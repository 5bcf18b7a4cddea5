package track

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/model"
)

// maxSubjectRunes bounds the subject length sent to the backend, capping the
// registration payload size.
const maxSubjectRunes = 120

// Client is a thin HTTP client for the tracking backend. Requests are made
// exactly once: a failure is surfaced immediately with no retry or backoff,
// so registration ordering guarantees stay observable to callers.
type Client struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an unauthenticated backend client, sufficient for
// provisioning. baseURL is the root URL of the tracking backend.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// WithIdentity returns a copy of the client keyed with the backend API key
// and the authenticated sender address, as required by every tracking call.
func (c *Client) WithIdentity(apiKey, sender string) *Client {
	clone := *c
	clone.apiKey = apiKey
	clone.sender = sender
	return &clone
}

// Provision exchanges (email, deviceID) for a backend API key. Called once
// per installation during login; needs no API key itself.
func (c *Client) Provision(ctx context.Context, email, deviceID string) (string, error) {
	var resp struct {
		APIKey string `json:"apiKey"`
	}
	payload := map[string]string{"email": email, "deviceId": deviceID}
	if err := c.do(ctx, http.MethodPost, "/api/provision", nil, payload, &resp); err != nil {
		return "", err
	}
	if resp.APIKey == "" {
		return "", fmt.Errorf("provisioning returned an empty api key")
	}
	return resp.APIKey, nil
}

// RegisteredAck is the backend's acknowledgement of a registration.
type RegisteredAck struct {
	TrackingID string `json:"trackingId"`
}

// Registration is the caller-supplied triple identifying one tracked send.
type Registration struct {
	TrackingID string
	Recipient  string
	Subject    string
}

// Register records a send with the backend before the email is dispatched.
// The subject is truncated to a fixed bound. A 429 response surfaces
// RateLimitedError with the backend's upgrade hint; any other non-success
// response surfaces BackendError.
func (c *Client) Register(ctx context.Context, reg Registration) (*RegisteredAck, error) {
	payload := map[string]string{
		"trackingId":     reg.TrackingID,
		"senderEmail":    c.sender,
		"recipientEmail": reg.Recipient,
		"emailSubject":   truncateSubject(reg.Subject),
	}

	var ack RegisteredAck
	if err := c.do(ctx, http.MethodPost, "/api/register", nil, payload, &ack); err != nil {
		return nil, err
	}
	if ack.TrackingID == "" {
		ack.TrackingID = reg.TrackingID
	}
	c.logger.Info("registered tracked send",
		zap.String("trackingId", reg.TrackingID),
		zap.String("recipient", reg.Recipient),
	)
	return &ack, nil
}

// Status fetches the current open state for a tracking id. An unknown id
// surfaces NotFoundError; a known id that was never opened is a normal
// zero-count result.
func (c *Client) Status(ctx context.Context, trackingID string) (*model.Track, error) {
	q := url.Values{}
	q.Set("id", trackingID)

	var track model.Track
	if err := c.do(ctx, http.MethodGet, "/api/status", q, nil, &track); err != nil {
		var be *BackendError
		if errors.As(err, &be) && be.Status == http.StatusNotFound {
			return nil, &NotFoundError{TrackingID: trackingID}
		}
		return nil, err
	}
	return &track, nil
}

// Dashboard fetches aggregate stats plus a page of recent tracks, newest
// first, bounded by limit. The backend enforces its own ceiling.
func (c *Client) Dashboard(ctx context.Context, limit int) (*model.Dashboard, error) {
	q := url.Values{}
	q.Set("email", c.sender)
	q.Set("limit", strconv.Itoa(limit))

	var dash model.Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", q, nil, &dash); err != nil {
		return nil, err
	}
	return &dash, nil
}

// ResolveLatest returns the most recent track, or NoMatchError when the
// history is empty.
func (c *Client) ResolveLatest(ctx context.Context, limit int) (*model.Track, error) {
	dash, err := c.Dashboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(dash.Tracks) == 0 {
		return nil, &NoMatchError{Criteria: "the latest send (history is empty)"}
	}
	return &dash.Tracks[0], nil
}

// ResolveByRecipient returns the most recent track whose recipient matches
// email case-insensitively, or NoMatchError.
func (c *Client) ResolveByRecipient(ctx context.Context, email string, limit int) (*model.Track, error) {
	dash, err := c.Dashboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range dash.Tracks {
		if strings.EqualFold(dash.Tracks[i].Recipient, email) {
			return &dash.Tracks[i], nil
		}
	}
	return nil, &NoMatchError{Criteria: "recipient " + email}
}

// do is the core HTTP method: builds the request, attaches the API key,
// performs exactly one attempt, and maps non-success statuses to the typed
// error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{Hint: rateLimitHint(respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}
	return nil
}

// rateLimitHint pulls the backend's human-readable hint out of a 429 body,
// falling back to a generic upgrade suggestion.
func rateLimitHint(body []byte) string {
	var payload struct {
		Hint  string `json:"hint"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Hint != "" {
			return payload.Hint
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return "daily tracking quota reached; upgrade your plan or try again tomorrow"
}

func truncateSubject(s string) string {
	runes := []rune(s)
	if len(runes) <= maxSubjectRunes {
		return s
	}
	return string(runes[:maxSubjectRunes])
}
