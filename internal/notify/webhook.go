package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/lotengine/internal/crypto"
)

// WebhookSender forwards messages as signed JSON to the external
// notification service, which owns templates and email delivery.
type WebhookSender struct {
	endpoint string
	path     string
	auth     *crypto.HMACAuth
	client   *http.Client
}

// NewWebhookSender creates a WebhookSender. When auth is non-nil every
// request carries HMAC signature headers.
func NewWebhookSender(endpoint string, auth *crypto.HMACAuth) (*WebhookSender, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid endpoint %q", endpoint)
	}
	return &WebhookSender{
		endpoint: endpoint,
		path:     u.EscapedPath(),
		auth:     auth,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send posts msg as JSON.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.auth != nil {
		for k, v := range w.auth.Headers(http.MethodPost, w.path, body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
