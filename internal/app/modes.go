package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lotengine/internal/domain"
	"github.com/alanyoungcy/lotengine/internal/server"
	"github.com/alanyoungcy/lotengine/internal/server/handler"
	"github.com/alanyoungcy/lotengine/internal/server/ws"
	"github.com/alanyoungcy/lotengine/internal/service"
	"github.com/alanyoungcy/lotengine/internal/validation"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 10 * time.Second

// APIMode serves HTTP and WebSocket traffic. Sweep requests are forwarded
// to the workers over the bus.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, &busSweepTrigger{bus: deps.Bus, logger: a.logger})
	return g.Wait()
}

// WorkerMode runs the lifecycle sweep and the outbox dispatcher, and obeys
// sweep requests arriving from API replicas.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	lifecycle := a.startWorkers(ctx, g, deps)

	g.Go(func() error {
		requests, err := deps.Bus.Subscribe(ctx, domain.ChannelSweep)
		if err != nil {
			return err
		}
		for range requests {
			lifecycle.Trigger()
		}
		return nil
	})

	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	lifecycle := a.startWorkers(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, lifecycle)
	return g.Wait()
}

func (a *App) endPolicy() domain.EndPolicy {
	return domain.EndPolicy(a.cfg.Lifecycle.EndPolicy)
}

// startWorkers adds the lifecycle controller and the dispatcher, with its
// settlement, notification and archive handlers, to g.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) *service.LifecycleController {
	lifecycle := service.NewLifecycleController(deps.Repo, deps.Locks, deps.Audit, service.LifecycleConfig{
		Interval:  a.cfg.Lifecycle.Interval.Duration,
		EndPolicy: a.endPolicy(),
	}, a.logger)

	settlement := service.NewSettlement(deps.Repo, deps.Payments, deps.Locks, deps.Audit, service.SettlementConfig{
		ShippingCents:  a.cfg.Settlement.ShippingCents,
		TaxRate:        a.cfg.Settlement.TaxRate,
		Currency:       a.cfg.Settlement.Currency,
		PaymentTimeout: a.cfg.Payment.Timeout.Duration,
	}, a.logger)

	dispatcher := service.NewDispatcher(deps.Repo, deps.Locks, deps.Bus, service.DispatchConfig{
		Interval:    a.cfg.Dispatch.Interval.Duration,
		BatchSize:   a.cfg.Dispatch.BatchSize,
		MaxAttempts: a.cfg.Dispatch.MaxAttempts,
	}, a.logger)
	dispatcher.Handle(domain.EventLotWon, service.SettleHandler(settlement))
	service.RegisterNotifier(dispatcher, deps.Notifier)
	if deps.Archiver != nil {
		dispatcher.Handle(domain.EventAuctionEnded, service.ArchiveHandler(deps.Archiver))
	} else {
		a.logger.InfoContext(ctx, "s3 disabled, ended auctions are not archived")
	}

	g.Go(func() error {
		return lifecycle.Run(ctx)
	})
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	return lifecycle
}

// startHTTPServer adds the HTTP server and the WebSocket hub to g. The
// server drains when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sweeps handler.SweepTrigger) {
	policy := a.endPolicy()

	bids := service.NewBidService(deps.Repo, deps.Locks, deps.Bus, service.BidConfig{
		LockTTL:   a.cfg.Bidding.LockTTL.Duration,
		LockWait:  a.cfg.Bidding.LockWait.Duration,
		EndPolicy: policy,
	}, a.logger)

	hub := ws.NewHub(deps.Bus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		BidRateLimit:  a.cfg.Bidding.RateLimit,
		BidRateWindow: a.cfg.Bidding.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Bids:      handler.NewBidHandler(bids, validation.New(), a.logger),
		Lots:      handler.NewLotHandler(deps.Repo, policy, a.logger),
		Auctions:  handler.NewAuctionHandler(deps.Repo, policy, a.logger),
		Lifecycle: handler.NewLifecycleHandler(sweeps),
	}, hub, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// busSweepTrigger forwards sweep requests to whichever worker is listening
// on domain.ChannelSweep.
type busSweepTrigger struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func (t *busSweepTrigger) Trigger() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.bus.Publish(ctx, domain.ChannelSweep, []byte(`{}`)); err != nil {
		t.logger.WarnContext(ctx, "sweep request not published", slog.String("error", err.Error()))
		return false
	}
	return true
}
