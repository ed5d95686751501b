package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// AppriseRecipient posts messages to an Apprise API server.
// The service URL is read from urlEnv and the API server from APPRISE_API_URL at send time.
type AppriseRecipient struct {
	name   string
	urlEnv string
	apiURL func() string
	client *http.Client
	logger zerolog.Logger
}

// NewAppriseRecipient creates a new Apprise recipient
func NewAppriseRecipient(name, urlEnv string, logger zerolog.Logger) *AppriseRecipient {
	return &AppriseRecipient{
		name:   name,
		urlEnv: urlEnv,
		apiURL: func() string { return os.Getenv("APPRISE_API_URL") },
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("channel", name).Logger(),
	}
}

// Name returns the channel name
func (a *AppriseRecipient) Name() string {
	return a.name
}

// Send posts msg to {APPRISE_API_URL}/notify/{service URL}
func (a *AppriseRecipient) Send(ctx context.Context, msg Message) error {
	serviceURL := os.Getenv(a.urlEnv)
	if serviceURL == "" {
		a.logger.Warn().
			Str("url_env", a.urlEnv).
			Msg("Channel URL not found, skipping")
		return nil
	}

	apiURL := a.apiURL()
	if apiURL == "" {
		a.logger.Info().
			Str("title", msg.Title).
			Msg("Would send notification (Apprise not configured)")
		return nil
	}

	payload := map[string]string{
		"title":  msg.Title,
		"body":   msg.Body,
		"format": "text",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/notify/%s", apiURL, serviceURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("apprise API error: %d - %s", resp.StatusCode, string(body))
	}
	return nil
}
