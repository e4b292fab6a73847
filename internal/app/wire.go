package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantfell/pairbot/internal/authz"
	"github.com/quantfell/pairbot/internal/config"
	"github.com/quantfell/pairbot/internal/coordinator"
	"github.com/quantfell/pairbot/internal/domain"
	"github.com/quantfell/pairbot/internal/journal"
	"github.com/quantfell/pairbot/internal/ledger"
	"github.com/quantfell/pairbot/internal/monitor"
	"github.com/quantfell/pairbot/internal/notify"
	"github.com/quantfell/pairbot/internal/telemetry"
	"github.com/quantfell/pairbot/internal/venue"
)

// Dependencies bundles everything the trading process needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	VenueA *venue.RESTAdapter
	VenueB *venue.RESTAdapter

	Params      *config.ParamStore
	Authz       *authz.Client
	Ledger      *ledger.Ledger
	Monitor     *monitor.Monitor
	Coordinator *coordinator.Coordinator
	Notifier    *notify.Notifier
	Telemetry   *telemetry.Publisher   // nil when disabled
	Journal     domain.TradeJournal    // nil when disabled
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venues ---
	deps.VenueA = venue.New(venue.Options{
		Name:      cfg.VenueA.Name,
		BaseURL:   cfg.VenueA.BaseURL,
		Token:     cfg.VenueA.ApiToken,
		RateLimit: cfg.VenueA.RateLimit,
		RateBurst: cfg.VenueA.RateBurst,
		Timeout:   cfg.VenueA.Timeout.Duration,
	}, logger)
	deps.VenueB = venue.New(venue.Options{
		Name:      cfg.VenueB.Name,
		BaseURL:   cfg.VenueB.BaseURL,
		Token:     cfg.VenueB.ApiToken,
		RateLimit: cfg.VenueB.RateLimit,
		RateBurst: cfg.VenueB.RateBurst,
		Timeout:   cfg.VenueB.Timeout.Duration,
	}, logger)

	// --- Authorization ---
	deps.Params = config.NewParamStore(nil)
	deps.Authz = authz.New(authz.Options{
		BaseURL:     cfg.Authorization.BaseURL,
		Token:       cfg.Authorization.Token,
		MaxFailures: cfg.Authorization.MaxFailures,
		ExitGrace:   cfg.Authorization.ExitGrace.Duration,
		HTTPTimeout: cfg.Authorization.HTTPTimeout.Duration,
	}, deps.Params, logger)

	// --- Notifications ---
	senders := notify.SendersFromConfig(
		cfg.Notify.TelegramToken,
		cfg.Notify.TelegramChatID,
		cfg.Notify.DiscordWebhookURL,
	)
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Telemetry (optional) ---
	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewPublisher(ctx, telemetry.Options{
			Addr:       cfg.Telemetry.Addr,
			Password:   cfg.Telemetry.Password,
			DB:         cfg.Telemetry.DB,
			PoolSize:   cfg.Telemetry.PoolSize,
			MaxRetries: cfg.Telemetry.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: telemetry: %w", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Telemetry = pub
	}

	// --- Trade journal (optional) ---
	if cfg.Journal.Enabled {
		jnl, err := journal.New(ctx, journal.Options{
			DSN:      cfg.Journal.DSN,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal: %w", err)
		}
		closers = append(closers, func() { _ = jnl.Close() })
		deps.Journal = jnl
	}

	// --- Monitor ---
	var gapPub domain.GapPublisher
	if deps.Telemetry != nil {
		gapPub = deps.Telemetry
	}
	deps.Monitor = monitor.New(deps.VenueA, deps.VenueB, monitor.Options{
		ProbeQuantity: cfg.Monitor.ProbeQuantity,
		Interval:      cfg.Monitor.PollInterval.Duration,
		RetryDelay:    cfg.Monitor.RetryDelay.Duration,
		Publisher:     gapPub,
	}, logger)

	// --- Ledger and coordinator ---
	deps.Ledger = ledger.New()

	var (
		statusPub domain.StatusPublisher
		tradePub  domain.TradePublisher
	)
	if deps.Telemetry != nil {
		statusPub = deps.Telemetry
		tradePub = deps.Telemetry
	}
	deps.Coordinator = coordinator.New(
		deps.VenueA,
		deps.VenueB,
		deps.Ledger,
		deps.Params,
		deps.Authz,
		deps.Notifier,
		deps.Journal,
		statusPub,
		tradePub,
		coordinator.Options{
			ExitGrace:       cfg.Execution.ExitGrace.Duration,
			ReconcileGrace:  cfg.Execution.ReconcileGrace.Duration,
			ConfirmTimeout:  cfg.Execution.ConfirmTimeout.Duration,
			ConfirmInterval: cfg.Execution.ConfirmInterval.Duration,
			SettleDelay:     cfg.Execution.SettleDelay.Duration,
			LotTick:         cfg.Execution.LotTick,
			BalanceRefresh:  cfg.Execution.BalanceRefresh.Duration,
			ModeA:           domain.LegMode(cfg.VenueA.Mode),
			ModeB:           domain.LegMode(cfg.VenueB.Mode),
		},
		logger,
	)

	return deps, cleanup, nil
}
