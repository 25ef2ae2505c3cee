package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const eventColumns = `id, type, key, payload, state, attempts, last_error, created_at, delivered_at`

func scanEvent(row scanner) (domain.Event, error) {
	var e domain.Event
	var typ, state string
	err := row.Scan(&e.ID, &typ, &e.Key, &e.Payload, &state, &e.Attempts, &e.LastError, &e.CreatedAt, &e.DeliveredAt)
	e.Type = domain.EventType(typ)
	e.State = domain.EventState(state)
	return e, err
}

// EnqueueEvent appends e to the outbox. A row with the same key wins and
// ErrAlreadyExists is returned.
func (q *queries) EnqueueEvent(ctx context.Context, e domain.Event) error {
	if e.State == "" {
		e.State = domain.EventPending
	}
	const query = `INSERT INTO outbox_events (id, type, key, payload, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`
	tag, err := q.db.Exec(ctx, query, e.ID, string(e.Type), e.Key, []byte(e.Payload), string(e.State), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: enqueue %s event: %w", e.Type, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: enqueue event %s: %w", e.Key, domain.ErrAlreadyExists)
	}
	return nil
}

// PendingEvents returns up to limit pending events in enqueue order.
func (r *Repository) PendingEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM outbox_events
		WHERE state = 'pending'
		ORDER BY seq
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: pending events rows: %w", err)
	}
	return out, nil
}

// MarkEventDelivered moves an event to delivered.
func (r *Repository) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE outbox_events SET state = 'delivered', delivered_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s delivered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark event %s delivered: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkEventFailed counts a failed attempt and, when park is set, takes the
// event out of the pending set.
func (r *Repository) MarkEventFailed(ctx context.Context, id string, reason string, park bool) error {
	const query = `UPDATE outbox_events SET
			attempts = attempts + 1,
			last_error = $2,
			state = CASE WHEN $3 THEN 'failed' ELSE state END
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, reason, park)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark event %s failed: %w", id, domain.ErrNotFound)
	}
	return nil
}
