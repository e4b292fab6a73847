// Package app manages the trading process lifecycle: it wires the
// dependencies, authenticates against the authorization server, and runs
// the monitor, coordinator and heartbeat loops until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfell/pairbot/internal/config"
	"golang.org/x/sync/errgroup"
)

// App is the root application object.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, authenticates, and blocks until the context is
// cancelled or the authorization client trips the fatal path.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting trading process",
		slog.String("venue_a", a.cfg.VenueA.Name),
		slog.String("venue_b", a.cfg.VenueB.Name),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// No snapshot, no trading. Startup fails outright when the
	// authorization server is unreachable.
	if err := deps.Authz.Authenticate(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	applyVenueParams := func(p *config.TradingParams) {
		if p == nil || p.Venues == nil {
			return
		}
		if vp, ok := p.Venues[a.cfg.VenueA.Name]; ok {
			deps.VenueA.ApplyParams(vp)
		}
		if vp, ok := p.Venues[a.cfg.VenueB.Name]; ok {
			deps.VenueB.ApplyParams(vp)
		}
	}
	applyVenueParams(deps.Params.Load())

	deps.Authz.OnConfigUpdate(applyVenueParams)
	deps.Authz.OnShutdown(func() {
		deps.Coordinator.Halt()
		_ = deps.Notifier.NotifyFatal(context.Background(), "authorization lost, trading halted")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Monitor.Run(gctx) })
	g.Go(func() error { return deps.Coordinator.Run(gctx, deps.Monitor.Samples()) })
	g.Go(func() error { return deps.Authz.Run(gctx) })
	g.Go(func() error { return deps.Coordinator.RunBalanceRefresh(gctx) })

	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to
// call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down trading process")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
