// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/server/handler"
	"github.com/alanyoungcy/lotengine/internal/server/middleware"
	"github.com/alanyoungcy/lotengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables gateway authentication

	// BidRateLimit is the number of bids a caller may place per
	// BidRateWindow. Zero disables limiting.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Bids      *handler.BidHandler
	Lots      *handler.LotHandler
	Auctions  *handler.AuctionHandler
	Lifecycle *handler.LifecycleHandler // nil leaves the route unregistered
}

// Server is the engine's HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in the middleware chain:
// CORS, identity, access log, then gateway auth. limiter may be nil, and so
// may hub.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	var placeBid http.Handler = http.HandlerFunc(h.Bids.PlaceBid)
	if limiter != nil && cfg.BidRateLimit > 0 {
		placeBid = middleware.RateLimit(limiter, "bids", cfg.BidRateLimit, cfg.BidRateWindow, logger)(placeBid)
	}
	mux.Handle("POST /api/bids", placeBid)

	mux.HandleFunc("GET /api/lots/{id}", h.Lots.GetLot)
	mux.HandleFunc("GET /api/lots/{id}/bids", h.Lots.ListBids)
	mux.HandleFunc("GET /api/lots/{id}/order", h.Lots.GetOrder)
	mux.HandleFunc("GET /api/auctions/{id}", h.Auctions.GetAuction)
	if h.Lifecycle != nil {
		mux.HandleFunc("POST /api/lifecycle/sweep", h.Lifecycle.TriggerSweep)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Identity(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
