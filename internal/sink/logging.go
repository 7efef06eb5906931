package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LoggingSink posts finalized turns to a transcription logging endpoint.
type LoggingSink struct {
	url    string
	client *http.Client
}

type loggingPayload struct {
	SessionID string `json:"session_id"`
	UserText  string `json:"user_text"`
	AgentText string `json:"agent_text"`
	Language  string `json:"language,omitempty"`
}

// NewLoggingSink creates a logging sink for the given endpoint URL.
func NewLoggingSink(url string) (*LoggingSink, error) {
	if url == "" {
		return nil, fmt.Errorf("logging sink URL cannot be empty")
	}
	return &LoggingSink{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Name identifies the sink in logs.
func (s *LoggingSink) Name() string { return NameLogging }

// Deliver posts one turn to the logging endpoint.
func (s *LoggingSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(loggingPayload{
		SessionID: e.SessionID,
		UserText:  e.UserText,
		AgentText: e.AgentText,
		Language:  e.Language,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// WebhookSink posts finalized turns to a configured webhook.
type WebhookSink struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	MeetingID string `json:"meetingId,omitempty"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewWebhookSink creates a webhook sink for the given endpoint URL.
func NewWebhookSink(url string) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL cannot be empty")
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Name identifies the sink in logs.
func (s *WebhookSink) Name() string { return NameWebhook }

// Deliver posts one turn to the webhook.
func (s *WebhookSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:      "transcription_finalized",
		SessionID: e.SessionID,
		MeetingID: e.MeetingID,
		Text:      e.UserText,
		Language:  e.Language,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
