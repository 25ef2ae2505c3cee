package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const orderColumns = `id, lot_id, user_id, winning_bid_id, final_price_cents, shipping_cents,
	tax_cents, total_cents, status, payment_status, payment_method_id, payment_ref,
	failure_reason, paid_at, created_at, updated_at`

func scanOrder(row scanner) (domain.Order, error) {
	var o domain.Order
	var status, paymentStatus string
	err := row.Scan(
		&o.ID, &o.LotID, &o.UserID, &o.WinningBidID, &o.FinalPriceCents, &o.ShippingCents,
		&o.TaxCents, &o.TotalCents, &status, &paymentStatus, &o.PaymentMethodID, &o.PaymentRef,
		&o.FailureReason, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	return o, err
}

// GetOrderByLot returns the order for a lot.
func (q *queries) GetOrderByLot(ctx context.Context, lotID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE lot_id = $1`
	o, err := scanOrder(q.db.QueryRow(ctx, query, lotID))
	if err != nil {
		return domain.Order{}, notFound(err, "order for lot", lotID)
	}
	return o, nil
}

// InsertOrder creates an order. A second order for the same lot is
// dropped by ON CONFLICT and reported as ErrAlreadyExists; the enclosing
// transaction stays usable and can still commit.
func (q *queries) InsertOrder(ctx context.Context, o domain.Order) error {
	const query = `INSERT INTO orders (
			id, lot_id, user_id, winning_bid_id, final_price_cents, shipping_cents,
			tax_cents, total_cents, status, payment_status, payment_method_id, payment_ref,
			failure_reason, paid_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (lot_id) DO NOTHING`
	tag, err := q.db.Exec(ctx, query,
		o.ID, o.LotID, o.UserID, o.WinningBidID, o.FinalPriceCents, o.ShippingCents,
		o.TaxCents, o.TotalCents, string(o.Status), string(o.PaymentStatus), o.PaymentMethodID, o.PaymentRef,
		o.FailureReason, o.PaidAt, o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert order for lot %s: %w", o.LotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert order for lot %s: %w", o.LotID, domain.ErrAlreadyExists)
	}
	return nil
}

// UpdateOrder persists the order's status and payment fields.
func (q *queries) UpdateOrder(ctx context.Context, o domain.Order) error {
	const query = `UPDATE orders SET
			status = $2,
			payment_status = $3,
			payment_method_id = $4,
			payment_ref = $5,
			failure_reason = $6,
			paid_at = $7,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query,
		o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentMethodID, o.PaymentRef, o.FailureReason, o.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

// ListOrdersByAuction returns the orders of every lot in an auction.
func (r *Repository) ListOrdersByAuction(ctx context.Context, auctionID string) ([]domain.Order, error) {
	query := `SELECT ` + prefixColumns("o", orderColumns) + `
		FROM orders o JOIN lots l ON l.id = o.lot_id
		WHERE l.auction_id = $1
		ORDER BY o.created_at, o.id`
	rows, err := r.db.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}
