package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const bidColumns = `id, lot_id, user_id, amount_cents, status, is_leading, placed_at`

// bidsOneLeading is the partial unique index allowing one leading bid per lot.
const bidsOneLeading = "bids_one_leading_per_lot"

func scanBid(row scanner) (domain.Bid, error) {
	var b domain.Bid
	var status string
	err := row.Scan(&b.ID, &b.LotID, &b.UserID, &b.AmountCents, &status, &b.IsLeading, &b.PlacedAt)
	b.Status = domain.BidStatus(status)
	return b, err
}

// GetLeadingBid returns the lot's leading bid.
func (q *queries) GetLeadingBid(ctx context.Context, lotID string) (domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE lot_id = $1 AND is_leading`
	b, err := scanBid(q.db.QueryRow(ctx, query, lotID))
	if err != nil {
		return domain.Bid{}, notFound(err, "leading bid for lot", lotID)
	}
	return b, nil
}

// GetBid returns the bid with the given id.
func (q *queries) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	b, err := scanBid(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Bid{}, notFound(err, "bid", id)
	}
	return b, nil
}

// InsertBid appends a bid. A second leading bid on the same lot is a
// conflict.
func (q *queries) InsertBid(ctx context.Context, b domain.Bid) error {
	const query = `INSERT INTO bids (id, lot_id, user_id, amount_cents, status, is_leading, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.db.Exec(ctx, query, b.ID, b.LotID, b.UserID, b.AmountCents, string(b.Status), b.IsLeading, b.PlacedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, bidsOneLeading):
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, domain.ErrConflict)
	case isUniqueViolation(err, ""):
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}
}

// UpdateBid persists status and is_leading.
func (q *queries) UpdateBid(ctx context.Context, b domain.Bid) error {
	const query = `UPDATE bids SET status = $2, is_leading = $3 WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, b.ID, string(b.Status), b.IsLeading)
	if err != nil {
		return fmt.Errorf("postgres: update bid %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bid %s: %w", b.ID, domain.ErrNotFound)
	}
	return nil
}

// ListBids returns a lot's bids, oldest first.
func (r *Repository) ListBids(ctx context.Context, lotID string) ([]domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE lot_id = $1 ORDER BY placed_at, id`
	rows, err := r.db.Query(ctx, query, lotID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", lotID, err)
	}
	defer rows.Close()

	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return out, nil
}
