package payments

// captureRequest is the wire body of POST /v1/captures.
type captureRequest struct {
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	CustomerID      string `json:"customer_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

// captureResponse is returned for both successful and declined captures.
type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"` // "succeeded" or "failed"
	FailureReason string `json:"failure_reason"`
}

type paymentMethodResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}
