package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/auth"
)

const gmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// Sender dispatches finished messages through the provider's REST API. The
// core hands it an HTML body that already carries the tracking marker;
// building and encoding the envelope is this package's whole job.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSender creates a provider mail client.
func NewSender(logger *zap.Logger) *Sender {
	return &Sender{
		baseURL: gmailBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewSenderWithBaseURL creates a provider mail client pointed at a custom
// API root. Used by tests to target a local fake provider.
func NewSenderWithBaseURL(baseURL string, logger *zap.Logger) *Sender {
	s := NewSender(logger)
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

// Send dispatches a raw RFC 5322 message and returns the provider's message
// id.
func (s *Sender) Send(ctx context.Context, client *auth.Client, raw []byte) (string, error) {
	payload := map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, client, "/users/me/messages/send", payload, &resp); err != nil {
		return "", err
	}
	s.logger.Info("message sent", zap.String("messageId", resp.ID))
	return resp.ID, nil
}

// Draft stores a raw RFC 5322 message as a provider draft and returns the
// draft id.
func (s *Sender) Draft(ctx context.Context, client *auth.Client, raw []byte) (string, error) {
	payload := map[string]interface{}{
		"message": map[string]string{
			"raw": base64.URLEncoding.EncodeToString(raw),
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, client, "/users/me/drafts", payload, &resp); err != nil {
		return "", err
	}
	s.logger.Info("draft created", zap.String("draftId", resp.ID))
	return resp.ID, nil
}

func (s *Sender) post(ctx context.Context, client *auth.Client, path string, payload, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+client.Token())
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &auth.ProviderError{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshaling response from POST %s: %w", path, err)
	}
	return nil
}
