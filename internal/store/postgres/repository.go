package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

const uniqueViolation = "23505"

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same statements run inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// queries implements domain.Tx over a querier.
type queries struct {
	db querier
}

var _ domain.Tx = (*queries)(nil)

// Repository implements domain.Repository on a pgx pool.
type Repository struct {
	queries
	pool *pgxpool.Pool
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository creates a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken with
// GetLotForUpdate are held until fn returns.
func (r *Repository) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: get %s %s: %w", what, id, err)
}

// isUniqueViolation reports whether err is a unique violation, optionally
// restricted to one constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
