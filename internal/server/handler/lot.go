package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/server/middleware"
)

// LotHandler serves the read-only lot endpoints.
type LotHandler struct {
	store   Store
	policy  domain.EndPolicy
	nowFunc func() time.Time
	logger  *slog.Logger
}

// NewLotHandler creates a LotHandler.
func NewLotHandler(store Store, policy domain.EndPolicy, logger *slog.Logger) *LotHandler {
	return &LotHandler{store: store, policy: policy, nowFunc: time.Now, logger: logger}
}

// bidView hides other bidders' identities.
type bidView struct {
	ID          string           `json:"id"`
	AmountCents int64            `json:"amount_cents"`
	Status      domain.BidStatus `json:"status"`
	IsLeading   bool             `json:"is_leading"`
	PlacedAt    time.Time        `json:"placed_at"`
	Mine        bool             `json:"mine"`
}

// GetLot returns a lot with its derived bidding state.
// GET /api/lots/{id}
func (h *LotHandler) GetLot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lot, err := h.store.GetLot(ctx, r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrLotNotFound.Error())
		return
	}
	if err != nil {
		internalError(w, r, h.logger, "get lot failed", err)
		return
	}
	auction, err := h.store.GetAuction(ctx, lot.AuctionID)
	if err != nil {
		internalError(w, r, h.logger, "get lot auction failed", err)
		return
	}
	lots, err := h.store.ListLots(ctx, auction.ID)
	if err != nil {
		internalError(w, r, h.logger, "list auction lots failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newLotView(auction, lot, lots, h.policy, h.nowFunc()))
}

// ListBids returns a lot's bid history, oldest first.
// GET /api/lots/{id}/bids
func (h *LotHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := h.store.GetLot(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, domain.ErrLotNotFound.Error())
			return
		}
		internalError(w, r, h.logger, "get lot failed", err)
		return
	}
	bids, err := h.store.ListBids(ctx, id)
	if err != nil {
		internalError(w, r, h.logger, "list bids failed", err)
		return
	}
	caller := middleware.UserID(ctx)
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			ID:          b.ID,
			AmountCents: b.AmountCents,
			Status:      b.Status,
			IsLeading:   b.IsLeading,
			PlacedAt:    b.PlacedAt,
			Mine:        caller != "" && b.UserID == caller,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": out})
}

// GetOrder returns the caller's order for a lot they won. Orders of other
// users are reported as not found.
// GET /api/lots/{id}/order
func (h *LotHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	caller := middleware.UserID(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthenticated.Error())
		return
	}
	order, err := h.store.GetOrderByLot(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && order.UserID != caller) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		internalError(w, r, h.logger, "get order failed", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
