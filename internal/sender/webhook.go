package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/httpretry"
)

// WebhookSender posts messages as JSON to an HTTP endpoint, e.g. an SMS or
// chat bridge. Retries are keyed by the Idempotency-Key header.
type WebhookSender struct {
	url    string
	client httpretry.HTTPDoer
	secret string
}

func NewWebhookSender(url string, client httpretry.HTTPDoer) *WebhookSender {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &WebhookSender{url: url, client: client}
}

// SetSecret adds a bearer token to every request.
func (w *WebhookSender) SetSecret(secret string) { w.secret = secret }

func (w *WebhookSender) Send(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpretry.IdempotencyHeader, msg.IdempotencyKey)
	if w.secret != "" {
		req.Header.Set("Authorization", "Bearer "+w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
