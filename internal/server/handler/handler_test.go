package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/lotengine/internal/cache/memory"
	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/server/middleware"
	"github.com/alanyoungcy/lotengine/internal/service"
	memstore "github.com/alanyoungcy/lotengine/internal/store/memory"
	"github.com/alanyoungcy/lotengine/internal/validation"
)

var (
	auctionEnd = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	now        = auctionEnd.Add(-time.Hour)
	logger     = slog.New(slog.DiscardHandler)
)

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New().WithClock(func() time.Time { return now })
	s.PutAuction(domain.Auction{
		ID:                  "spring",
		Title:               "Spring Ceramics",
		Status:              domain.AuctionLive,
		StartsAt:            auctionEnd.Add(-24 * time.Hour),
		EndsAt:              auctionEnd,
		SoftCloseWindowSec:  120,
		SoftCloseExtendSec:  120,
		FixedIncrementCents: 500,
		Published:           true,
	})
	reserve := int64(4000)
	s.PutLot(domain.Lot{ID: "bowl", AuctionID: "spring", Title: "Celadon bowl", StartingBidCents: 2000, ReserveCents: &reserve})
	s.PutAuction(domain.Auction{ID: "draft", Status: domain.AuctionDraft, StartsAt: now, EndsAt: auctionEnd, FixedIncrementCents: 100})
	return s
}

func newMux(t *testing.T, s *memstore.Store, placer BidPlacer) *http.ServeMux {
	t.Helper()
	if placer == nil {
		placer = service.NewBidService(s, memory.NewLockManager(), nil, service.BidConfig{EndPolicy: domain.EndPolicyExtended}, logger).
			WithClock(func() time.Time { return now })
	}
	lots := NewLotHandler(s, domain.EndPolicyExtended, logger)
	lots.nowFunc = func() time.Time { return now }
	auctions := NewAuctionHandler(s, domain.EndPolicyExtended, logger)
	auctions.nowFunc = func() time.Time { return now }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bids", NewBidHandler(placer, validation.New(), logger).PlaceBid)
	mux.HandleFunc("GET /api/lots/{id}", lots.GetLot)
	mux.HandleFunc("GET /api/lots/{id}/bids", lots.ListBids)
	mux.HandleFunc("GET /api/lots/{id}/order", lots.GetOrder)
	mux.HandleFunc("GET /api/auctions/{id}", auctions.GetAuction)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if user != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func bid(lotID string, cents int64) string {
	return fmt.Sprintf(`{"lot_id":%q,"amount_cents":%d}`, lotID, cents)
}

func TestPlaceBid_Admitted(t *testing.T) {
	mux := newMux(t, seed(t), nil)

	code, body := do(t, mux, http.MethodPost, "/api/bids", "alice", bid("bowl", 2500))
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, any(float64(2500)), body["new_current_bid"])
	b, ok := body["bid"].(map[string]any)
	assert.True(t, ok)
	check.Equal(t, any("alice"), b["user_id"])
	check.Equal(t, any("LEADING"), b["status"])
}

func TestPlaceBid_Rejections(t *testing.T) {
	s := seed(t)
	mux := newMux(t, s, nil)
	code, _ := do(t, mux, http.MethodPost, "/api/bids", "alice", bid("bowl", 2500))
	assert.Equal(t, http.StatusOK, code)

	cases := []struct {
		name    string
		user    string
		body    string
		want    int
		wantErr string
	}{
		{"too low", "bob", bid("bowl", 2600), http.StatusBadRequest, "Minimum bid is $30.00"},
		{"no caller", "", bid("bowl", 5000), http.StatusUnauthorized, "unauthenticated"},
		{"unknown lot", "bob", bid("vase", 5000), http.StatusNotFound, "lot not found"},
		{"bad json", "bob", `{"lot_id":`, http.StatusBadRequest, "invalid_request_body"},
		{"unknown field", "bob", `{"lot_id":"bowl","amount_cents":5000,"max":1}`, http.StatusBadRequest, "invalid_request_body"},
		{"zero amount", "bob", bid("bowl", 0), http.StatusBadRequest, "validation_failed"},
		{"negative amount", "bob", bid("bowl", -5), http.StatusBadRequest, "validation_failed"},
		{"bad lot id", "bob", bid("../etc", 5000), http.StatusBadRequest, "validation_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, mux, http.MethodPost, "/api/bids", tc.user, tc.body)
			check.Equal(t, tc.want, code)
			check.Equal(t, any(tc.wantErr), body["error"])
		})
	}

	_, body := do(t, mux, http.MethodPost, "/api/bids", "bob", bid("bowl", 2600))
	check.Equal(t, any(float64(3000)), body["min_next_bid_cents"])
}

func TestPlaceBid_AuctionNotLive(t *testing.T) {
	s := seed(t)
	s.PutLot(domain.Lot{ID: "cup", AuctionID: "draft", StartingBidCents: 100})
	code, body := do(t, newMux(t, s, nil), http.MethodPost, "/api/bids", "alice", bid("cup", 500))
	check.Equal(t, http.StatusConflict, code)
	check.Equal(t, any("auction not live"), body["error"])
}

type stubPlacer struct{ err error }

func (p stubPlacer) PlaceBid(context.Context, string, string, int64) (service.BidResult, error) {
	return service.BidResult{}, p.err
}

func TestPlaceBid_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("service: lock: %w", domain.ErrLotBusy), http.StatusServiceUnavailable},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		mux := newMux(t, seed(t), stubPlacer{err: tc.err})
		code, body := do(t, mux, http.MethodPost, "/api/bids", "alice", bid("bowl", 5000))
		check.Equal(t, tc.want, code)
		if tc.want == http.StatusInternalServerError {
			check.Equal(t, any("internal server error"), body["error"])
		}
	}
}

func TestGetLot_HidesReserve(t *testing.T) {
	mux := newMux(t, seed(t), nil)

	code, body := do(t, mux, http.MethodGet, "/api/lots/bowl", "", "")
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, any(float64(2500)), body["min_next_bid_cents"])
	check.Equal(t, any("LIVE"), body["auction_status"])
	check.Equal(t, any(true), body["open"])
	check.Equal(t, any(false), body["reserve_met"])
	_, leaked := body["reserve_cents"]
	check.False(t, leaked)

	code, _ = do(t, mux, http.MethodGet, "/api/lots/vase", "", "")
	check.Equal(t, http.StatusNotFound, code)
}

func TestListBids_MasksBidders(t *testing.T) {
	mux := newMux(t, seed(t), nil)
	do(t, mux, http.MethodPost, "/api/bids", "alice", bid("bowl", 2500))
	do(t, mux, http.MethodPost, "/api/bids", "bob", bid("bowl", 3000))

	code, body := do(t, mux, http.MethodGet, "/api/lots/bowl/bids", "alice", "")
	assert.Equal(t, http.StatusOK, code)
	bids, ok := body["bids"].([]any)
	assert.True(t, ok)
	assert.Equal(t, 2, len(bids))

	first := bids[0].(map[string]any)
	second := bids[1].(map[string]any)
	check.Equal(t, any(true), first["mine"])
	check.Equal(t, any("OUTBID"), first["status"])
	check.Equal(t, any(false), second["mine"])
	_, leaked := second["user_id"]
	check.False(t, leaked)
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	s := seed(t)
	assert.NoError(t, s.InsertOrder(context.Background(), domain.Order{
		ID: "o1", LotID: "bowl", UserID: "alice", TotalCents: 7020,
		Status: domain.OrderStatusPaid, PaymentStatus: domain.PaymentSucceeded,
	}))
	mux := newMux(t, s, nil)

	code, body := do(t, mux, http.MethodGet, "/api/lots/bowl/order", "alice", "")
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, any(float64(7020)), body["total_cents"])

	code, _ = do(t, mux, http.MethodGet, "/api/lots/bowl/order", "bob", "")
	check.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, mux, http.MethodGet, "/api/lots/bowl/order", "", "")
	check.Equal(t, http.StatusUnauthorized, code)
}

func TestGetAuction(t *testing.T) {
	mux := newMux(t, seed(t), nil)

	code, body := do(t, mux, http.MethodGet, "/api/auctions/spring", "", "")
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, any("LIVE"), body["status"])
	check.Equal(t, any(auctionEnd.Format(time.RFC3339)), body["closes_at"])
	lots, ok := body["lots"].([]any)
	assert.True(t, ok)
	check.Equal(t, 1, len(lots))

	code, _ = do(t, mux, http.MethodGet, "/api/auctions/draft", "", "")
	check.Equal(t, http.StatusNotFound, code)
}

type stubTrigger struct{ queued bool }

func (s stubTrigger) Trigger() bool { return s.queued }

func TestTriggerSweep(t *testing.T) {
	h := NewLifecycleHandler(stubTrigger{queued: true})
	rec := httptest.NewRecorder()
	h.TriggerSweep(rec, httptest.NewRequest(http.MethodPost, "/api/lifecycle/sweep", nil))
	check.Equal(t, http.StatusAccepted, rec.Code)
	check.Equal(t, `{"queued":true}`, rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	healthy := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}, logger)
	code, body := do(t, http.HandlerFunc(healthy.HealthCheck), http.MethodGet, "/api/health", "", "")
	check.Equal(t, http.StatusOK, code)
	check.Equal(t, any("ok"), body["status"])

	degraded := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, logger)
	code, body = do(t, http.HandlerFunc(degraded.HealthCheck), http.MethodGet, "/api/health", "", "")
	check.Equal(t, http.StatusServiceUnavailable, code)
	check.Equal(t, any("degraded"), body["status"])
}
