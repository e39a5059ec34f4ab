package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MacJediWizard/bpcmon/internal/models"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-BPCMon-Signature"

// WebhookPayload is the body posted to the notification webhook.
type WebhookPayload struct {
	Event     models.SiteEventType `json:"event"`
	Channel   string               `json:"channel"`
	Timestamp time.Time            `json:"timestamp"`
	Data      any                  `json:"data"`
}

// WebhookSender posts site events to a single URL with HMAC signing and retry.
type WebhookSender struct {
	url        string
	secret     string
	client     *http.Client
	logger     zerolog.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewWebhookSender creates a WebhookSender. client should carry its own timeout.
func NewWebhookSender(url, secret string, client *http.Client, logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		url:        url,
		secret:     secret,
		client:     client,
		logger:     logger.With().Str("component", "webhook_sender").Logger(),
		maxRetries: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<(attempt-1)) * time.Second
		},
	}
}

// Name implements Sink.
func (w *WebhookSender) Name() string { return "webhook" }

// Notify implements Sink.
func (w *WebhookSender) Notify(ctx context.Context, event models.SiteEvent) error {
	body, err := json.Marshal(WebhookPayload{
		Event:     event.Type,
		Channel:   event.Channel,
		Timestamp: time.Now().UTC(),
		Data:      event.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff(attempt)):
			}
			w.logger.Debug().Int("attempt", attempt+1).Msg("retrying webhook")
		}

		lastErr = w.send(ctx, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", w.maxRetries, lastErr)
}

func (w *WebhookSender) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
