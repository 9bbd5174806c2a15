package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Config holds webhook notifier configuration.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Webhook POSTs escalation messages as JSON to a configured endpoint
// (Slack-compatible incoming webhooks work out of the box).
type Webhook struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg Config) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		log:    slog.Default().With("component", "notify"),
	}
}

// Notify delivers msg. Errors are logged, never returned.
func (w *Webhook) Notify(ctx context.Context, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		w.log.Warn("Failed to encode notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.log.Warn("Failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("Failed to deliver notification", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.log.Warn("Notification endpoint rejected message", "status", resp.StatusCode)
	}
}
