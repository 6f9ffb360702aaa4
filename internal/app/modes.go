package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerd/internal/feed"
	"github.com/alanyoungcy/wagerd/internal/server"
	"github.com/alanyoungcy/wagerd/internal/server/handler"
	"github.com/alanyoungcy/wagerd/internal/server/ws"
	"github.com/alanyoungcy/wagerd/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode runs the HTTP API and WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SchedulerMode runs the lifecycle sweeper only.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps); err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}
	return g.Wait()
}

// FeedMode ingests streamed prices into the shared price cache.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps); err != nil {
		return fmt.Errorf("feed mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs every component that is enabled in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	if len(a.cfg.Feeds.Symbols) > 0 {
		if err := a.startFeed(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if a.cfg.Scheduler.Enabled {
		if err := a.startScheduler(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startScheduler adds the sweeper goroutine. It acts as the operator key's
// address, so only markets created by that key are driven.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Signer == nil {
		return errors.New("scheduler requires an operator key")
	}
	sched := service.NewScheduler(deps.Ledger, deps.Settlement, deps.LockManager, service.SchedulerConfig{
		Operator:    deps.Signer.Address().Hex(),
		Interval:    a.cfg.Scheduler.Interval.Duration,
		BatchSize:   a.cfg.Scheduler.BatchSize,
		Parallelism: a.cfg.Scheduler.Parallelism,
		AutoResolve: a.cfg.Scheduler.AutoResolve,
	}, a.logger)

	g.Go(func() error {
		return ignoreCanceled(sched.Run(ctx))
	})
	return nil
}

// startFeed adds the RTDS ingester. Samples land in the price cache and are
// relayed on the feeds channel.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.PriceCache == nil {
		return errors.New("price feed requires redis")
	}
	rtds := feed.NewRTDSFeed(
		a.cfg.Feeds.RTDSURL,
		a.cfg.Feeds.Symbols,
		deps.PriceCache,
		deps.Feeds.HandleSample,
		a.logger,
	)
	g.Go(func() error {
		defer rtds.Close()
		return ignoreCanceled(rtds.Run(ctx))
	})
	return nil
}

// startHTTPServer adds the HTTP server goroutine to g along with its
// WebSocket hub. The server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:         a.cfg.Mode,
			Channels:     []string{service.MarketsChannel, service.FeedsChannel},
			ReplayStream: service.EventStream,
			StartedAt:    startedAt,
		})
		g.Go(func() error {
			return ignoreCanceled(hub.Run(ctx))
		})
	} else {
		a.logger.InfoContext(ctx, "redis disabled, websocket hub not started")
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Health, a.logger),
		Status: &handler.StatusHandler{
			Mode:        a.cfg.Mode,
			Ledger:      deps.LedgerBackend,
			Authorities: deps.Authorities,
			FeeAccount:  deps.FeeAccount,
			Scheduler:   a.cfg.Scheduler.Enabled,
			StartedAt:   startedAt,
		},
		Markets:  handler.NewMarketHandler(deps.Settlement, deps.Markets, a.logger),
		Accounts: handler.NewAccountHandler(deps.Markets, a.logger),
		Feeds:    handler.NewFeedHandler(deps.Feeds, a.logger),
		Audit:    handler.NewAuditHandler(deps.Markets, a.logger),
	}

	srvDeps := server.Deps{Limiter: deps.RateLimiter}
	if a.cfg.Server.ReplayProtection {
		srvDeps.Replay = deps.LockManager
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		MaxClockSkew: a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, handlers, srvDeps, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled maps a clean shutdown to nil so errgroup reports only real
// failures.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
