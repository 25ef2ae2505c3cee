package domain

import "context"

// CaptureRequest asks the payment collaborator to charge a customer.
type CaptureRequest struct {
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	CustomerID      string `json:"customer_id"`
	PaymentMethodID string `json:"payment_method_id"`
	// IdempotencyKey makes a retried capture for the same lot charge once.
	IdempotencyKey string `json:"-"`
}

// CaptureResult is the collaborator's answer to a capture. A declined
// charge is a result, not an error.
type CaptureResult struct {
	Succeeded     bool   `json:"succeeded"`
	Reference     string `json:"reference"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// PaymentGateway is the external payment collaborator.
type PaymentGateway interface {
	// DefaultPaymentMethod returns the customer's default payment method id,
	// or ErrNotFound if they have none on file.
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}

// SettleKey is the idempotency key for a lot's payment capture.
func SettleKey(lotID string) string { return "settle:" + lotID }
