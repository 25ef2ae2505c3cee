package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Tx is the set of reads and writes the engine performs against the
// backing store. Inside Repository.WithTx every call belongs to one
// transaction; on the Repository itself each call stands alone.
type Tx interface {
	GetAuction(ctx context.Context, id string) (Auction, error)
	// UpdateAuction persists status and ActualEndedAt.
	UpdateAuction(ctx context.Context, a Auction) error

	GetLot(ctx context.Context, id string) (Lot, error)
	// GetLotForUpdate reads a lot and, inside a transaction, holds its row
	// lock until the transaction ends.
	GetLotForUpdate(ctx context.Context, id string) (Lot, error)
	ListLots(ctx context.Context, auctionID string) ([]Lot, error)
	// ListLotsForUpdate is ListLots holding every returned row lock until
	// the transaction ends.
	ListLotsForUpdate(ctx context.Context, auctionID string) ([]Lot, error)
	// UpdateLot writes the mutable lot fields if l.Version still matches
	// the stored version, and bumps it. It returns ErrConflict otherwise.
	UpdateLot(ctx context.Context, l Lot) (Lot, error)

	// GetLeadingBid returns the lot's bid with IsLeading set, or ErrNotFound.
	GetLeadingBid(ctx context.Context, lotID string) (Bid, error)
	GetBid(ctx context.Context, id string) (Bid, error)
	InsertBid(ctx context.Context, b Bid) error
	// UpdateBid persists Status and IsLeading.
	UpdateBid(ctx context.Context, b Bid) error

	// GetOrderByLot returns the lot's order, or ErrNotFound.
	GetOrderByLot(ctx context.Context, lotID string) (Order, error)
	// InsertOrder returns ErrAlreadyExists if the lot already has an order.
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error

	// EnqueueEvent appends an event to the outbox. An event whose Key is
	// already present is dropped and ErrAlreadyExists is returned.
	EnqueueEvent(ctx context.Context, e Event) error
}

// Repository is the engine's single persistence contract. Callers never
// learn which backend answered; any failover belongs behind this interface.
type Repository interface {
	Tx

	// WithTx runs fn in one transaction, committing if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ListSweepable returns published auctions that are not ENDED or DRAFT.
	ListSweepable(ctx context.Context) ([]Auction, error)
	ListBids(ctx context.Context, lotID string) ([]Bid, error)
	ListOrdersByAuction(ctx context.Context, auctionID string) ([]Order, error)

	// PendingEvents returns up to limit undelivered events, oldest first.
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventDelivered(ctx context.Context, id string, at time.Time) error
	// MarkEventFailed records a failed delivery; park moves the event out
	// of the pending set for operator follow-up.
	MarkEventFailed(ctx context.Context, id string, reason string, park bool) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
