package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const auctionColumns = `id, title, status, starts_at, ends_at, soft_close_window_sec,
	soft_close_extend_sec, fixed_increment_cents, published, actual_ended_at,
	created_at, updated_at`

func scanAuction(row scanner) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := row.Scan(
		&a.ID, &a.Title, &status, &a.StartsAt, &a.EndsAt, &a.SoftCloseWindowSec,
		&a.SoftCloseExtendSec, &a.FixedIncrementCents, &a.Published, &a.ActualEndedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	a.Status = domain.AuctionStatus(status)
	return a, err
}

// GetAuction returns the auction with the given id.
func (q *queries) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Auction{}, notFound(err, "auction", id)
	}
	return a, nil
}

// UpdateAuction persists status and actual_ended_at.
func (q *queries) UpdateAuction(ctx context.Context, a domain.Auction) error {
	const query = `UPDATE auctions SET status = $2, actual_ended_at = $3, updated_at = NOW() WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, a.ID, string(a.Status), a.ActualEndedAt)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// ListSweepable returns published PREVIEW and LIVE auctions, earliest start
// first.
func (r *Repository) ListSweepable(ctx context.Context) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE published AND status IN ('PREVIEW', 'LIVE')
		ORDER BY starts_at, id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sweepable auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sweepable auctions rows: %w", err)
	}
	return out, nil
}
