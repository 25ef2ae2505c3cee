package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const lotColumns = `id, auction_id, title, starting_bid_cents, reserve_cents,
	current_bid_cents, reserve_met, sold, effective_end_time, extended, version,
	updated_at`

func scanLot(row scanner) (domain.Lot, error) {
	var l domain.Lot
	err := row.Scan(
		&l.ID, &l.AuctionID, &l.Title, &l.StartingBidCents, &l.ReserveCents,
		&l.CurrentBidCents, &l.ReserveMet, &l.Sold, &l.EffectiveEndTime, &l.Extended, &l.Version,
		&l.UpdatedAt,
	)
	return l, err
}

// GetLot returns the lot with the given id.
func (q *queries) GetLot(ctx context.Context, id string) (domain.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1`
	l, err := scanLot(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Lot{}, notFound(err, "lot", id)
	}
	return l, nil
}

// GetLotForUpdate reads a lot and takes its row lock for the rest of the
// transaction.
func (q *queries) GetLotForUpdate(ctx context.Context, id string) (domain.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots WHERE id = $1 FOR UPDATE`
	l, err := scanLot(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Lot{}, notFound(err, "lot", id)
	}
	return l, nil
}

// ListLots returns an auction's lots ordered by id.
func (q *queries) ListLots(ctx context.Context, auctionID string) ([]domain.Lot, error) {
	return q.listLots(ctx, auctionID, `SELECT `+lotColumns+` FROM lots WHERE auction_id = $1 ORDER BY id`)
}

// ListLotsForUpdate locks every lot of the auction, in id order, for the
// rest of the transaction. A bid holding one of the rows is waited out and
// its write is visible in the result.
func (q *queries) ListLotsForUpdate(ctx context.Context, auctionID string) ([]domain.Lot, error) {
	return q.listLots(ctx, auctionID, `SELECT `+lotColumns+` FROM lots WHERE auction_id = $1 ORDER BY id FOR UPDATE`)
}

func (q *queries) listLots(ctx context.Context, auctionID, query string) ([]domain.Lot, error) {
	rows, err := q.db.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan lot: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list lots rows: %w", err)
	}
	return out, nil
}

// UpdateLot writes the mutable fields when the stored version still equals
// l.Version and returns the lot as stored.
func (q *queries) UpdateLot(ctx context.Context, l domain.Lot) (domain.Lot, error) {
	query := `UPDATE lots SET
			current_bid_cents = $3,
			reserve_met = $4,
			sold = $5,
			effective_end_time = $6,
			extended = $7,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + lotColumns
	updated, err := scanLot(q.db.QueryRow(ctx, query,
		l.ID, l.Version, l.CurrentBidCents, l.ReserveMet, l.Sold, l.EffectiveEndTime, l.Extended,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Lot{}, fmt.Errorf("postgres: update lot %s: %w", l.ID, err)
	}

	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lots WHERE id = $1)`, l.ID).Scan(&exists); err != nil {
		return domain.Lot{}, fmt.Errorf("postgres: update lot %s: %w", l.ID, err)
	}
	if !exists {
		return domain.Lot{}, fmt.Errorf("postgres: update lot %s: %w", l.ID, domain.ErrNotFound)
	}
	return domain.Lot{}, fmt.Errorf("postgres: update lot %s at version %d: %w", l.ID, l.Version, domain.ErrConflict)
}
