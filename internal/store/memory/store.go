// Package memory implements domain.Repository in process memory. It backs
// the "memory" store driver used for local runs and tests.
//
// Transactions work on a private copy of the state and swap it in on
// commit, so a failed transaction leaves nothing behind. Transactions are
// serialized store-wide.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

type state struct {
	auctions  map[string]domain.Auction
	lots      map[string]domain.Lot
	bids      map[string]domain.Bid
	lotBids   map[string][]string     // lotID -> bid ids in insertion order
	orders    map[string]domain.Order // keyed by lot id
	events    []domain.Event
	eventKeys map[string]bool
	audit     []domain.AuditEntry
}

func newState() *state {
	return &state{
		auctions:  make(map[string]domain.Auction),
		lots:      make(map[string]domain.Lot),
		bids:      make(map[string]domain.Bid),
		lotBids:   make(map[string][]string),
		orders:    make(map[string]domain.Order),
		eventKeys: make(map[string]bool),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.lotBids {
		c.lotBids[k] = append([]string(nil), v...)
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.events = append([]domain.Event(nil), s.events...)
	for k, v := range s.eventKeys {
		c.eventKeys[k] = v
	}
	c.audit = append([]domain.AuditEntry(nil), s.audit...)
	return c
}

// Store is an in-memory domain.Repository and domain.AuditStore.
type Store struct {
	txMu    sync.Mutex   // serializes writers
	mu      sync.RWMutex // guards cur
	cur     *state
	nowFunc func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{cur: newState(), nowFunc: time.Now}
}

// WithClock overrides the clock used for audit and update timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn succeeds. Transactions hold a store-wide lock, including those
// touching unrelated lots; throughput is bounded by one writer.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(&tx{st: work, now: s.nowFunc}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

// autocommit runs a single write outside an explicit transaction.
func (s *Store) autocommit(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.WithTx(ctx, fn)
}

// read runs fn against the committed state.
func (s *Store) read(fn func(t *tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.cur, now: s.nowFunc})
}

// ---------------------------------------------------------------------------
// Fixtures. The admin workflow that creates auctions and lots lives outside
// the engine; these exist for local runs and tests.
// ---------------------------------------------------------------------------

// PutAuction inserts or replaces an auction.
func (s *Store) PutAuction(a domain.Auction) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.nowFunc().UTC()
	}
	s.cur.auctions[a.ID] = a
}

// PutLot inserts or replaces a lot. A zero EffectiveEndTime is initialised
// to the auction's EndsAt.
func (s *Store) PutLot(l domain.Lot) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.cur.auctions[l.AuctionID]; ok && l.EffectiveEndTime.IsZero() {
		l.EffectiveEndTime = a.EndsAt
	}
	s.cur.lots[l.ID] = l
}

// Seed is the on-disk fixture format read by LoadSeed.
type Seed struct {
	Auctions []domain.Auction `json:"auctions"`
	Lots     []seedLot        `json:"lots"`
}

type seedLot struct {
	domain.Lot
	Reserve *int64 `json:"reserve_cents"`
}

// LoadSeed reads auctions and lots from a JSON fixture file.
func (s *Store) LoadSeed(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("memory: read seed %s: %w", path, err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("memory: parse seed %s: %w", path, err)
	}
	for _, a := range seed.Auctions {
		s.PutAuction(a)
	}
	for _, sl := range seed.Lots {
		l := sl.Lot
		l.ReserveCents = sl.Reserve
		s.PutLot(l)
	}
	return len(seed.Auctions) + len(seed.Lots), nil
}

// ---------------------------------------------------------------------------
// domain.Tx on the committed state
// ---------------------------------------------------------------------------

func (s *Store) GetAuction(ctx context.Context, id string) (domain.Auction, error) {
	var a domain.Auction
	err := s.read(func(t *tx) (err error) { a, err = t.GetAuction(ctx, id); return })
	return a, err
}

func (s *Store) UpdateAuction(ctx context.Context, a domain.Auction) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.UpdateAuction(ctx, a) })
}

func (s *Store) GetLot(ctx context.Context, id string) (domain.Lot, error) {
	var l domain.Lot
	err := s.read(func(t *tx) (err error) { l, err = t.GetLot(ctx, id); return })
	return l, err
}

func (s *Store) GetLotForUpdate(ctx context.Context, id string) (domain.Lot, error) {
	return s.GetLot(ctx, id)
}

func (s *Store) ListLots(ctx context.Context, auctionID string) ([]domain.Lot, error) {
	var lots []domain.Lot
	err := s.read(func(t *tx) (err error) { lots, err = t.ListLots(ctx, auctionID); return })
	return lots, err
}

func (s *Store) ListLotsForUpdate(ctx context.Context, auctionID string) ([]domain.Lot, error) {
	return s.ListLots(ctx, auctionID)
}

func (s *Store) UpdateLot(ctx context.Context, l domain.Lot) (domain.Lot, error) {
	var out domain.Lot
	err := s.autocommit(ctx, func(t domain.Tx) (err error) { out, err = t.UpdateLot(ctx, l); return })
	return out, err
}

func (s *Store) GetLeadingBid(ctx context.Context, lotID string) (domain.Bid, error) {
	var b domain.Bid
	err := s.read(func(t *tx) (err error) { b, err = t.GetLeadingBid(ctx, lotID); return })
	return b, err
}

func (s *Store) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	var b domain.Bid
	err := s.read(func(t *tx) (err error) { b, err = t.GetBid(ctx, id); return })
	return b, err
}

func (s *Store) InsertBid(ctx context.Context, b domain.Bid) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.InsertBid(ctx, b) })
}

func (s *Store) UpdateBid(ctx context.Context, b domain.Bid) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.UpdateBid(ctx, b) })
}

func (s *Store) GetOrderByLot(ctx context.Context, lotID string) (domain.Order, error) {
	var o domain.Order
	err := s.read(func(t *tx) (err error) { o, err = t.GetOrderByLot(ctx, lotID); return })
	return o, err
}

func (s *Store) InsertOrder(ctx context.Context, o domain.Order) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.InsertOrder(ctx, o) })
}

func (s *Store) UpdateOrder(ctx context.Context, o domain.Order) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.UpdateOrder(ctx, o) })
}

func (s *Store) EnqueueEvent(ctx context.Context, e domain.Event) error {
	return s.autocommit(ctx, func(t domain.Tx) error { return t.EnqueueEvent(ctx, e) })
}

// ---------------------------------------------------------------------------
// Repository queries
// ---------------------------------------------------------------------------

// ListSweepable returns published auctions that are neither DRAFT nor ENDED.
func (s *Store) ListSweepable(_ context.Context) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Auction
	for _, a := range s.cur.auctions {
		if a.Published && a.Status != domain.AuctionDraft && a.Status != domain.AuctionEnded {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// ListBids returns a lot's bids in placement order.
func (s *Store) ListBids(_ context.Context, lotID string) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.cur.lotBids[lotID]
	out := make([]domain.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.cur.bids[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

// ListOrdersByAuction returns the orders for every lot in an auction.
func (s *Store) ListOrdersByAuction(_ context.Context, auctionID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for lotID, o := range s.cur.orders {
		if s.cur.lots[lotID].AuctionID == auctionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PendingEvents returns up to limit pending events, oldest first.
func (s *Store) PendingEvents(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.cur.events {
		if e.State != domain.EventPending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkEventDelivered moves an event to the delivered state.
func (s *Store) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	return s.updateEvent(ctx, id, func(e *domain.Event) {
		e.State = domain.EventDelivered
		e.DeliveredAt = &at
	})
}

// MarkEventFailed records a failed delivery attempt.
func (s *Store) MarkEventFailed(ctx context.Context, id string, reason string, park bool) error {
	return s.updateEvent(ctx, id, func(e *domain.Event) {
		e.Attempts++
		e.LastError = reason
		if park {
			e.State = domain.EventParked
		}
	})
}

func (s *Store) updateEvent(_ context.Context, id string, fn func(e *domain.Event)) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cur.events {
		if s.cur.events[i].ID == id {
			fn(&s.cur.events[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

// Events returns every outbox event regardless of state.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.cur.events...)
}

// ---------------------------------------------------------------------------
// domain.AuditStore
// ---------------------------------------------------------------------------

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.audit = append(s.cur.audit, domain.AuditEntry{
		ID:        int64(len(s.cur.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.nowFunc().UTC(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(s.cur.audit) - 1; i >= 0; i-- {
		e := s.cur.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// tx
// ---------------------------------------------------------------------------

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetAuction(_ context.Context, id string) (domain.Auction, error) {
	a, ok := t.st.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (t *tx) UpdateAuction(_ context.Context, a domain.Auction) error {
	cur, ok := t.st.auctions[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = a.Status
	cur.ActualEndedAt = copyTime(a.ActualEndedAt)
	cur.UpdatedAt = t.now().UTC()
	t.st.auctions[a.ID] = cur
	return nil
}

func (t *tx) GetLot(_ context.Context, id string) (domain.Lot, error) {
	l, ok := t.st.lots[id]
	if !ok {
		return domain.Lot{}, domain.ErrNotFound
	}
	return copyLot(l), nil
}

func (t *tx) GetLotForUpdate(ctx context.Context, id string) (domain.Lot, error) {
	return t.GetLot(ctx, id)
}

func (t *tx) ListLots(_ context.Context, auctionID string) ([]domain.Lot, error) {
	var out []domain.Lot
	for _, l := range t.st.lots {
		if l.AuctionID == auctionID {
			out = append(out, copyLot(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ListLotsForUpdate(ctx context.Context, auctionID string) ([]domain.Lot, error) {
	return t.ListLots(ctx, auctionID)
}

func (t *tx) UpdateLot(_ context.Context, l domain.Lot) (domain.Lot, error) {
	cur, ok := t.st.lots[l.ID]
	if !ok {
		return domain.Lot{}, domain.ErrNotFound
	}
	if cur.Version != l.Version {
		return domain.Lot{}, domain.ErrConflict
	}
	cur.CurrentBidCents = copyInt(l.CurrentBidCents)
	cur.ReserveMet = l.ReserveMet
	cur.Sold = l.Sold
	cur.EffectiveEndTime = l.EffectiveEndTime
	cur.Extended = l.Extended
	cur.Version++
	cur.UpdatedAt = t.now().UTC()
	t.st.lots[l.ID] = cur
	return copyLot(cur), nil
}

func (t *tx) GetLeadingBid(_ context.Context, lotID string) (domain.Bid, error) {
	for _, id := range t.st.lotBids[lotID] {
		if b := t.st.bids[id]; b.IsLeading {
			return b, nil
		}
	}
	return domain.Bid{}, domain.ErrNotFound
}

func (t *tx) GetBid(_ context.Context, id string) (domain.Bid, error) {
	b, ok := t.st.bids[id]
	if !ok {
		return domain.Bid{}, domain.ErrNotFound
	}
	return b, nil
}

func (t *tx) InsertBid(_ context.Context, b domain.Bid) error {
	if _, ok := t.st.bids[b.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if b.IsLeading {
		for _, id := range t.st.lotBids[b.LotID] {
			if t.st.bids[id].IsLeading {
				return fmt.Errorf("memory: insert bid %s: lot %s already has a leading bid: %w", b.ID, b.LotID, domain.ErrConflict)
			}
		}
	}
	t.st.bids[b.ID] = b
	t.st.lotBids[b.LotID] = append(t.st.lotBids[b.LotID], b.ID)
	return nil
}

func (t *tx) UpdateBid(_ context.Context, b domain.Bid) error {
	cur, ok := t.st.bids[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = b.Status
	cur.IsLeading = b.IsLeading
	t.st.bids[b.ID] = cur
	return nil
}

func (t *tx) GetOrderByLot(_ context.Context, lotID string) (domain.Order, error) {
	o, ok := t.st.orders[lotID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (t *tx) InsertOrder(_ context.Context, o domain.Order) error {
	if _, ok := t.st.orders[o.LotID]; ok {
		return domain.ErrAlreadyExists
	}
	t.st.orders[o.LotID] = o
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o domain.Order) error {
	if _, ok := t.st.orders[o.LotID]; !ok {
		return domain.ErrNotFound
	}
	o.UpdatedAt = t.now().UTC()
	t.st.orders[o.LotID] = o
	return nil
}

func (t *tx) EnqueueEvent(_ context.Context, e domain.Event) error {
	if t.st.eventKeys[e.Key] {
		return domain.ErrAlreadyExists
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.State == "" {
		e.State = domain.EventPending
	}
	t.st.eventKeys[e.Key] = true
	t.st.events = append(t.st.events, e)
	return nil
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyLot(l domain.Lot) domain.Lot {
	l.CurrentBidCents = copyInt(l.CurrentBidCents)
	l.ReserveCents = copyInt(l.ReserveCents)
	return l
}

var (
	_ domain.Repository = (*Store)(nil)
	_ domain.AuditStore = (*Store)(nil)
)
