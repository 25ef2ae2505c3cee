// Package payments is the HTTP client for the external payment
// collaborator: default payment method lookup and capture.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/lotengine/internal/crypto"
	"github.com/alanyoungcy/lotengine/internal/domain"
)

// Client implements domain.PaymentGateway over HTTP. Requests are signed
// with HMAC when auth is set.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a Client for the API at baseURL. The HTTP timeout is a
// backstop; settlement applies its own, shorter, capture deadline.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

// DefaultPaymentMethod returns the customer's default payment method, or
// domain.ErrNotFound if none is on file.
func (c *Client) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	path := "/v1/customers/" + url.PathEscape(customerID) + "/default-payment-method"
	status, body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", fmt.Errorf("payments: default payment method: %w", err)
	}
	if status == http.StatusNotFound {
		return "", domain.ErrNotFound
	}
	if err := checkStatus(status, body); err != nil {
		return "", fmt.Errorf("payments: default payment method: %w", err)
	}

	var pm paymentMethodResponse
	if err := json.Unmarshal(body, &pm); err != nil {
		return "", fmt.Errorf("payments: decode payment method: %w", err)
	}
	if pm.ID == "" {
		return "", domain.ErrNotFound
	}
	return pm.ID, nil
}

// Capture charges the customer. A declined charge (HTTP 402 or status
// "failed") is returned as an unsuccessful result; transport and server
// errors are returned as errors.
func (c *Client) Capture(ctx context.Context, req domain.CaptureRequest) (domain.CaptureResult, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	status, body, err := c.do(ctx, http.MethodPost, "/v1/captures", captureRequest{
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
	}, headers)
	if err != nil {
		return domain.CaptureResult{}, fmt.Errorf("payments: capture: %w", err)
	}
	if status != http.StatusPaymentRequired {
		if err := checkStatus(status, body); err != nil {
			return domain.CaptureResult{}, fmt.Errorf("payments: capture: %w", err)
		}
	}

	var cr captureResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return domain.CaptureResult{}, fmt.Errorf("payments: decode capture: %w", err)
	}
	res := domain.CaptureResult{
		Succeeded:     status != http.StatusPaymentRequired && cr.Status == "succeeded",
		Reference:     cr.ID,
		FailureReason: cr.FailureReason,
	}
	if !res.Succeeded && res.FailureReason == "" {
		res.FailureReason = "capture " + cr.Status
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, []byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// ErrServer marks 5xx responses.
var ErrServer = errors.New("payment service error")

func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if status >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrServer, status, msg)
	}
	return fmt.Errorf("HTTP %d: %s", status, msg)
}

var _ domain.PaymentGateway = (*Client)(nil)
