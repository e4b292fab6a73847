// Package coordinator drives the two-leg execution lifecycle: entry on a
// qualifying gap, confirmation, exit on profit, and unwind of orphans.
package coordinator

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quantfell/pairbot/internal/config"
	"github.com/quantfell/pairbot/internal/domain"
	"github.com/quantfell/pairbot/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// Verifier performs the synchronous pre-trade authorization check.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Notifier delivers operator alerts for trade lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options holds the coordinator's timing and sizing knobs. Thresholds and
// notional come from the live TradingParams snapshot instead.
type Options struct {
	ExitGrace       time.Duration
	ReconcileGrace  time.Duration
	ConfirmTimeout  time.Duration
	ConfirmInterval time.Duration
	SettleDelay     time.Duration
	LotTick         float64
	BalanceRefresh  time.Duration
	ModeA           domain.LegMode
	ModeB           domain.LegMode
}

// Coordinator owns the single-position execution loop. Exactly one entry
// or exit attempt runs at a time; the busy flag is claimed with a single
// compare-and-swap so concurrent samples can never race past the gate.
type Coordinator struct {
	venueA   domain.VenueAdapter
	venueB   domain.VenueAdapter
	ledger   *ledger.Ledger
	params   *config.ParamStore
	verifier Verifier
	notifier Notifier               // optional
	journal  domain.TradeJournal    // optional
	statusPb domain.StatusPublisher // optional
	tradePb  domain.TradePublisher  // optional
	opts     Options
	logger   *slog.Logger

	busy      atomic.Bool
	halted    atomic.Bool
	state     atomic.Value // domain.CoordinatorState
	latestGap atomic.Pointer[domain.GapSample]
	lastPnl   atomic.Value // float64
	confirmWG sync.WaitGroup

	balMu    sync.RWMutex
	balanceA float64
	balanceB float64
}

// New creates a Coordinator. notifier, journal, statusPub and tradePub
// may be nil.
func New(
	venueA, venueB domain.VenueAdapter,
	ldg *ledger.Ledger,
	params *config.ParamStore,
	verifier Verifier,
	notifier Notifier,
	journal domain.TradeJournal,
	statusPub domain.StatusPublisher,
	tradePub domain.TradePublisher,
	opts Options,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		venueA:   venueA,
		venueB:   venueB,
		ledger:   ldg,
		params:   params,
		verifier: verifier,
		notifier: notifier,
		journal:  journal,
		statusPb: statusPub,
		tradePb:  tradePub,
		opts:     opts,
		logger:   logger.With(slog.String("component", "coordinator")),
	}
	c.state.Store(domain.StateIdle)
	c.lastPnl.Store(float64(0))
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() domain.CoordinatorState {
	return c.state.Load().(domain.CoordinatorState)
}

func (c *Coordinator) setState(s domain.CoordinatorState) {
	c.state.Store(s)
}

// Halt stops all new entries and exits. Used as the authorization client's
// shutdown callback; the loop keeps draining samples but acts on none.
func (c *Coordinator) Halt() {
	c.halted.Store(true)
	c.logger.Warn("coordinator halted")
}

// Run consumes gap samples until the context is cancelled or the channel
// closes. Each sample triggers at most one evaluation.
func (c *Coordinator) Run(ctx context.Context, samples <-chan domain.GapSample) error {
	c.logger.Info("coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.confirmWG.Wait()
			c.logger.Info("coordinator stopped")
			return ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				c.confirmWG.Wait()
				return nil
			}
			c.latestGap.Store(&sample)
			if c.halted.Load() {
				continue
			}
			if c.ledger.Position() != nil {
				c.maybeExit(ctx)
			} else {
				c.maybeEnter(ctx, sample)
			}
		}
	}
}

// maybeEnter attempts one entry. Every precondition failure is silent at
// info level or below; entering is the common path that mostly does not
// happen.
func (c *Coordinator) maybeEnter(ctx context.Context, sample domain.GapSample) {
	params := c.params.Load()
	if params == nil {
		return
	}
	// The threshold is denominated in price units, not percent.
	if math.Abs(sample.Gap) < params.EntryGapThreshold {
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		return
	}
	defer c.busy.Store(false)

	// Re-check under the gate; a settle may have raced ahead of us.
	if c.ledger.Position() != nil {
		return
	}
	c.setState(domain.StateEntering)

	if err := c.verifier.Verify(ctx); err != nil {
		c.logger.Debug("entry verification denied", slog.String("error", err.Error()))
		c.setState(domain.StateIdle)
		return
	}

	balA, balB, err := c.readBalances(ctx)
	if err != nil {
		c.logger.Warn("balance read failed, abandoning entry", slog.String("error", err.Error()))
		c.setState(domain.StateIdle)
		return
	}

	sizing, err := ComputeSizing(params.PositionNotional, params.Leverage, sample.EntryPriceB, c.opts.LotTick)
	if err != nil {
		c.logger.Warn("sizing failed, abandoning entry",
			slog.Float64("reference_price", sample.EntryPriceB),
			slog.String("error", err.Error()),
		)
		c.setState(domain.StateIdle)
		return
	}

	sideA, sideB := sidesFor(sample.Direction)
	now := time.Now().UTC()

	legA := domain.Leg{
		Venue:      c.venueA.Name(),
		Side:       sideA,
		Mode:       c.opts.ModeA,
		Quantity:   sizing.Quantity,
		EntryPrice: sample.EntryPriceA,
		Collateral: sizing.Collateral,
		Exposure:   sizing.Exposure,
		Leverage:   params.Leverage,
		Status:     domain.LegStatusNone,
		OpenedAt:   now,
	}
	legB := domain.Leg{
		Venue:      c.venueB.Name(),
		Side:       sideB,
		Mode:       c.opts.ModeB,
		Quantity:   sizing.Quantity,
		EntryPrice: sample.EntryPriceB,
		Collateral: sizing.Collateral,
		Exposure:   sizing.Exposure,
		Leverage:   params.Leverage,
		Status:     domain.LegStatusNone,
		OpenedAt:   now,
	}

	c.logger.Info("entering position",
		slog.String("direction", string(sample.Direction)),
		slog.Float64("gap", sample.Gap),
		slog.Float64("gap_pct", sample.GapPct),
		slog.Float64("quantity", sizing.Quantity),
		slog.Float64("collateral", sizing.Collateral),
	)

	// Both legs go out in parallel and both joins complete before any
	// bookkeeping. Errors are captured per leg so one failure never
	// interrupts the other.
	var (
		g          errgroup.Group
		ackA, ackB domain.OrderAck
		errA, errB error
	)
	g.Go(func() error {
		ackA, errA = c.venueA.Open(ctx, openRequest(legA))
		return nil
	})
	g.Go(func() error {
		ackB, errB = c.venueB.Open(ctx, openRequest(legB))
		return nil
	})
	_ = g.Wait()

	if errA != nil && errB != nil {
		c.logger.Error("both entry legs failed",
			slog.String("venue_a_error", errA.Error()),
			slog.String("venue_b_error", errB.Error()),
		)
		c.setState(domain.StateIdle)
		return
	}

	applyAck(&legA, ackA, errA)
	applyAck(&legB, ackB, errB)

	pos := domain.ArbitragePosition{
		ID:                     uuid.NewString(),
		Direction:              sample.Direction,
		LegA:                   legA,
		LegB:                   legB,
		EntryGap:               sample.Gap,
		EntryGapPct:            sample.GapPct,
		InitialCombinedBalance: balA + balB,
		CreatedAt:              now,
	}
	if err := c.ledger.Open(pos); err != nil {
		c.logger.Error("ledger rejected position", slog.String("error", err.Error()))
		c.setState(domain.StateIdle)
		return
	}
	c.setState(domain.StateOpen)

	if errA != nil || errB != nil {
		c.reportOrphan(ctx, pos, errA, errB)
	} else {
		c.notify(ctx, "entry", "Position opened",
			"direction="+string(sample.Direction))
	}

	// Legs acknowledged with only an order reference get a background
	// confirmation poll against venue truth.
	if legA.Status == domain.LegStatusPendingOpen {
		c.confirmLeg(ctx, c.venueA)
	}
	if legB.Status == domain.LegStatusPendingOpen {
		c.confirmLeg(ctx, c.venueB)
	}
}

// openRequest builds the venue request for a prepared leg.
func openRequest(leg domain.Leg) domain.OpenRequest {
	return domain.OpenRequest{
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Price:      leg.EntryPrice,
		Leverage:   leg.Leverage,
		Collateral: leg.Collateral,
	}
}

// applyAck folds a venue acknowledgement into the leg. A failed leg keeps
// status none with zero quantity so PnL and reconciliation ignore it.
func applyAck(leg *domain.Leg, ack domain.OrderAck, err error) {
	if err != nil {
		leg.Status = domain.LegStatusNone
		leg.Quantity = 0
		leg.Exposure = 0
		return
	}
	leg.OrderRef = ack.OrderRef
	if ack.FillPrice > 0 {
		leg.EntryPrice = ack.FillPrice
		leg.Exposure = leg.Quantity * ack.FillPrice
	}
	if ack.Confirmed {
		leg.Status = domain.LegStatusOpen
	} else {
		leg.Status = domain.LegStatusPendingOpen
	}
}

// reportOrphan logs, notifies and journals a one-legged entry. The
// position stays in the ledger; the reconciliation path resolves it.
func (c *Coordinator) reportOrphan(ctx context.Context, pos domain.ArbitragePosition, errA, errB error) {
	venue := c.venueA.Name()
	detail := ""
	if errA != nil {
		detail = errA.Error()
	} else {
		venue = c.venueB.Name()
		detail = errB.Error()
	}

	c.logger.Error("orphaned leg after entry",
		slog.String("position_id", pos.ID),
		slog.String("failed_venue", venue),
		slog.String("error", detail),
	)
	c.notify(ctx, "orphan", "Orphaned leg",
		"venue "+venue+" failed to open: "+detail)
	if c.journal != nil {
		if err := c.journal.RecordOrphan(ctx, pos.ID, venue, detail); err != nil {
			c.logger.Warn("journal orphan write failed", slog.String("error", err.Error()))
		}
	}
}

// confirmLeg polls venue truth until the pending leg shows up or the
// confirmation window expires. Expiry leaves the leg pending; the exit
// path reconciles it against the venue later.
func (c *Coordinator) confirmLeg(ctx context.Context, venue domain.VenueAdapter) {
	c.confirmWG.Add(1)
	go func() {
		defer c.confirmWG.Done()

		deadline := time.Now().Add(c.opts.ConfirmTimeout)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.opts.ConfirmInterval):
			}

			vp, err := venue.GetOpenPosition(ctx)
			if err != nil {
				continue
			}
			if vp == nil {
				continue
			}

			err = c.ledger.UpdateLeg(venue.Name(), func(l *domain.Leg) {
				l.Status = domain.LegStatusOpen
				if vp.EntryPrice > 0 {
					l.EntryPrice = vp.EntryPrice
					l.Exposure = l.Quantity * vp.EntryPrice
				}
			})
			if err == nil {
				c.logger.Info("leg confirmed", slog.String("venue", venue.Name()))
			}
			return
		}
		c.logger.Warn("leg confirmation window expired", slog.String("venue", venue.Name()))
	}()
}

// maybeExit evaluates the open position. Inside the reconcile grace the
// in-memory leg statuses are trusted; afterwards venue truth decides.
func (c *Coordinator) maybeExit(ctx context.Context) {
	pos := c.ledger.Position()
	if pos == nil {
		c.setState(domain.StateIdle)
		return
	}
	params := c.params.Load()
	if params == nil {
		return
	}

	age := time.Since(pos.CreatedAt)
	if age < c.opts.ExitGrace {
		return
	}

	aOpen := legHolds(pos.LegA)
	bOpen := legHolds(pos.LegB)
	pastGrace := age >= c.opts.ReconcileGrace

	if pastGrace {
		liveA, okA := c.livePosition(ctx, c.venueA)
		liveB, okB := c.livePosition(ctx, c.venueB)
		// A failed read keeps the in-memory view for that leg rather
		// than treating the venue as flat.
		if okA {
			aOpen = liveA != nil
		}
		if okB {
			bOpen = liveB != nil
		}
	}

	switch {
	case aOpen && bOpen:
		c.evaluateProfit(ctx, pos, params)
	case aOpen || bOpen:
		if pastGrace {
			c.logger.Warn("single surviving leg, forcing unwind",
				slog.String("position_id", pos.ID),
				slog.Bool("venue_a_open", aOpen),
				slog.Bool("venue_b_open", bOpen),
			)
			c.closeAndSettle(ctx, true)
		}
	default:
		// Both venues flat: closed externally, settle the books.
		c.logger.Warn("position closed externally, settling",
			slog.String("position_id", pos.ID))
		c.closeAndSettle(ctx, true)
	}
}

// evaluateProfit checks fresh quotes against the profit target.
func (c *Coordinator) evaluateProfit(ctx context.Context, pos *domain.ArbitragePosition, params *config.TradingParams) {
	quoteA, err := c.venueA.GetQuote(ctx, pos.LegA.Quantity)
	if err != nil {
		return
	}
	quoteB, err := c.venueB.GetQuote(ctx, pos.LegB.Quantity)
	if err != nil {
		return
	}

	pnl := ledger.UnrealizedPnl(*pos, quoteA, quoteB)
	c.lastPnl.Store(pnl)

	if pnl >= params.TargetProfit {
		c.logger.Info("profit target reached",
			slog.Float64("unrealized_pnl", pnl),
			slog.Float64("target", params.TargetProfit),
		)
		c.closeAndSettle(ctx, false)
	}
}

// closeAndSettle closes both legs in parallel and settles the trade. A
// venue reporting no open position counts as a successful close. If any
// close fails the position stays open and the next sample retries.
func (c *Coordinator) closeAndSettle(ctx context.Context, forced bool) {
	if !c.busy.CompareAndSwap(false, true) {
		return
	}
	defer c.busy.Store(false)

	if c.ledger.Position() == nil {
		c.setState(domain.StateIdle)
		return
	}
	c.setState(domain.StateExiting)

	var (
		g          errgroup.Group
		errA, errB error
	)
	g.Go(func() error {
		_, errA = c.venueA.Close(ctx)
		return nil
	})
	g.Go(func() error {
		_, errB = c.venueB.Close(ctx)
		return nil
	})
	_ = g.Wait()

	if errA != nil || errB != nil {
		c.logger.Error("close failed, position stays open",
			slog.Any("venue_a_error", errA),
			slog.Any("venue_b_error", errB),
		)
		c.setState(domain.StateOpen)
		return
	}

	// Let fills settle before the final balance read.
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.opts.SettleDelay):
	}

	balA, balB, err := c.readBalances(ctx)
	if err != nil {
		c.logger.Warn("final balance read failed, using cached balances",
			slog.String("error", err.Error()))
		c.balMu.RLock()
		balA, balB = c.balanceA, c.balanceB
		c.balMu.RUnlock()
	}

	rec, err := c.ledger.Settle(balA+balB, forced, time.Now().UTC())
	if err != nil {
		c.logger.Error("settle failed", slog.String("error", err.Error()))
		c.setState(domain.StateIdle)
		return
	}
	c.setState(domain.StateIdle)
	c.lastPnl.Store(float64(0))

	c.logger.Info("position settled",
		slog.String("position_id", rec.PositionID),
		slog.Float64("realized_pnl", rec.RealizedPnl),
		slog.Bool("forced", rec.ForcedUnwind),
	)
	c.notify(ctx, "exit", "Position closed",
		"realized_pnl="+formatPnl(rec.RealizedPnl))
	if c.journal != nil {
		if err := c.journal.RecordTrade(ctx, rec); err != nil {
			c.logger.Warn("journal trade write failed", slog.String("error", err.Error()))
		}
	}
	if c.tradePb != nil {
		if err := c.tradePb.PublishTrade(ctx, rec); err != nil {
			c.logger.Debug("trade publish failed", slog.String("error", err.Error()))
		}
	}
	c.publishStatus(ctx)
}

// livePosition reads venue truth; ok is false when the read failed.
func (c *Coordinator) livePosition(ctx context.Context, venue domain.VenueAdapter) (*domain.VenuePosition, bool) {
	vp, err := venue.GetOpenPosition(ctx)
	if err != nil {
		c.logger.Debug("position reconcile read failed",
			slog.String("venue", venue.Name()),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return vp, true
}

// readBalances fetches both venue balances in parallel and caches them.
func (c *Coordinator) readBalances(ctx context.Context) (float64, float64, error) {
	var (
		g          errgroup.Group
		balA, balB float64
		errA, errB error
	)
	g.Go(func() error {
		balA, errA = c.venueA.GetBalance(ctx)
		return nil
	})
	g.Go(func() error {
		balB, errB = c.venueB.GetBalance(ctx)
		return nil
	})
	_ = g.Wait()

	if errA != nil {
		return 0, 0, errA
	}
	if errB != nil {
		return 0, 0, errB
	}

	c.balMu.Lock()
	c.balanceA, c.balanceB = balA, balB
	c.balMu.Unlock()

	return balA, balB, nil
}

// RunBalanceRefresh keeps the cached balances warm for status reporting.
func (c *Coordinator) RunBalanceRefresh(ctx context.Context) error {
	if c.opts.BalanceRefresh <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(c.opts.BalanceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := c.readBalances(ctx); err != nil {
				c.logger.Debug("balance refresh failed", slog.String("error", err.Error()))
			}
			c.publishStatus(ctx)
		}
	}
}

// Status returns a point-in-time snapshot for telemetry and operators.
func (c *Coordinator) Status() domain.StatusSnapshot {
	c.balMu.RLock()
	balA, balB := c.balanceA, c.balanceB
	c.balMu.RUnlock()

	count, total, _ := c.ledger.Stats()

	return domain.StatusSnapshot{
		State:         c.State(),
		LatestGap:     c.latestGap.Load(),
		Position:      c.ledger.Position(),
		UnrealizedPnl: c.lastPnl.Load().(float64),
		BalanceA:      balA,
		BalanceB:      balB,
		TradeCount:    count,
		TotalPnl:      total,
		SampledAt:     time.Now().UTC(),
	}
}

func (c *Coordinator) publishStatus(ctx context.Context) {
	if c.statusPb == nil {
		return
	}
	if err := c.statusPb.PublishStatus(ctx, c.Status()); err != nil {
		c.logger.Debug("status publish failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, event, title, message); err != nil {
		c.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

// sidesFor maps a gap direction onto per-venue leg sides.
func sidesFor(d domain.Direction) (sideA, sideB domain.Side) {
	if d == domain.DirectionAShortBLong {
		return domain.SideShort, domain.SideLong
	}
	return domain.SideLong, domain.SideShort
}

// legHolds reports whether the in-memory leg still pins the position.
func legHolds(leg domain.Leg) bool {
	return leg.Status == domain.LegStatusOpen || leg.Status == domain.LegStatusPendingOpen
}

// formatPnl renders a signed two-decimal figure for operator alerts.
func formatPnl(v float64) string {
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
	if v >= 0 {
		s = "+" + s
	}
	return s
}
