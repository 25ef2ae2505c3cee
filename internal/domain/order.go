package domain

import "time"

// OrderStatus tracks the fulfilment side of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusPaid       OrderStatus = "PAID"
)

// PaymentStatus tracks the payment capture for an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentSkipped   PaymentStatus = "SKIPPED"
)

// Totals is the price breakdown of a settled lot, all in cents.
type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// Order is the charge created for a won lot. At most one exists per lot.
type Order struct {
	ID              string        `json:"id"`
	LotID           string        `json:"lot_id"`
	UserID          string        `json:"user_id"`
	WinningBidID    string        `json:"winning_bid_id"`
	FinalPriceCents int64         `json:"final_price_cents"`
	ShippingCents   int64         `json:"shipping_cents"`
	TaxCents        int64         `json:"tax_cents"`
	TotalCents      int64         `json:"total_cents"`
	Status          OrderStatus   `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentMethodID string        `json:"payment_method_id,omitempty"`
	PaymentRef      string        `json:"payment_ref,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Totals returns the order's price breakdown.
func (o Order) Totals() Totals {
	return Totals{
		SubtotalCents: o.FinalPriceCents,
		ShippingCents: o.ShippingCents,
		TaxCents:      o.TaxCents,
		TotalCents:    o.TotalCents,
	}
}
