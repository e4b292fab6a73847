package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quantfell/pairbot/internal/config"
	"github.com/quantfell/pairbot/internal/domain"
	"github.com/quantfell/pairbot/internal/ledger"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct {
	mu       sync.Mutex
	name     string
	quote    domain.Quote
	openAck  domain.OrderAck
	openErr  error
	closeRes domain.CloseResult
	closeErr error
	pos      *domain.VenuePosition
	balance  float64
	opens    []domain.OpenRequest
	closes   int
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) GetQuote(ctx context.Context, qty float64) (domain.Quote, error) {
	return v.quote, nil
}

func (v *fakeVenue) Open(ctx context.Context, req domain.OpenRequest) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openErr != nil {
		return domain.OrderAck{}, v.openErr
	}
	v.opens = append(v.opens, req)
	return v.openAck, nil
}

func (v *fakeVenue) Close(ctx context.Context) (domain.CloseResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closeErr != nil {
		return domain.CloseResult{}, v.closeErr
	}
	v.closes++
	return v.closeRes, nil
}

func (v *fakeVenue) GetOpenPosition(ctx context.Context) (*domain.VenuePosition, error) {
	return v.pos, nil
}

func (v *fakeVenue) GetBalance(ctx context.Context) (float64, error) {
	return v.balance, nil
}

func (v *fakeVenue) openCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.opens)
}

type fakeVerifier struct {
	err   error
	calls int
}

func (f *fakeVerifier) Verify(ctx context.Context) error {
	f.calls++
	return f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(ctx context.Context, event, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func testParams() *config.ParamStore {
	return config.NewParamStore(&config.TradingParams{
		ConfigVersion:     1,
		HeartbeatInterval: 30,
		EntryGapThreshold: 0.5,
		TargetProfit:      10,
		Leverage:          3,
		PositionNotional:  1000,
	})
}

func testOptions() Options {
	return Options{
		ExitGrace:       15 * time.Second,
		ReconcileGrace:  20 * time.Second,
		ConfirmTimeout:  50 * time.Millisecond,
		ConfirmInterval: 10 * time.Millisecond,
		SettleDelay:     0,
		LotTick:         1e-6,
		ModeA:           domain.LegModeLeveraged,
		ModeB:           domain.LegModeLinear,
	}
}

func testSample() domain.GapSample {
	return domain.GapSample{
		Gap:         4,
		GapPct:      4,
		Direction:   domain.DirectionAShortBLong,
		EntryPriceA: 102,
		EntryPriceB: 98,
		MidA:        100,
		MidB:        97,
		SampledAt:   time.Now(),
	}
}

func newTestCoordinator(venueA, venueB *fakeVenue, verifier *fakeVerifier, notifier *recordingNotifier, opts Options) (*Coordinator, *ledger.Ledger) {
	ldg := ledger.New()
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	c := New(venueA, venueB, ldg, testParams(), verifier, n, nil, nil, nil, opts, noopLogger())
	return c, ldg
}

func TestEntryOpensBothLegs(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, openAck: domain.OrderAck{OrderRef: "a-1", Confirmed: true}}
	venueB := &fakeVenue{name: "b", balance: 1000, openAck: domain.OrderAck{OrderRef: "b-1", Confirmed: true}}
	verifier := &fakeVerifier{}
	notifier := &recordingNotifier{}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, notifier, testOptions())

	c.maybeEnter(context.Background(), testSample())

	if venueA.openCount() != 1 || venueB.openCount() != 1 {
		t.Fatalf("opens = %d/%d, want 1/1", venueA.openCount(), venueB.openCount())
	}
	if verifier.calls != 1 {
		t.Fatalf("verify calls = %d, want 1", verifier.calls)
	}

	pos := ldg.Position()
	if pos == nil {
		t.Fatal("expected an open position")
	}
	if pos.LegA.Side != domain.SideShort || pos.LegB.Side != domain.SideLong {
		t.Fatalf("sides = %s/%s, want short/long", pos.LegA.Side, pos.LegB.Side)
	}
	if pos.LegA.Status != domain.LegStatusOpen || pos.LegB.Status != domain.LegStatusOpen {
		t.Fatalf("statuses = %s/%s, want open/open", pos.LegA.Status, pos.LegB.Status)
	}
	if pos.InitialCombinedBalance != 2000 {
		t.Fatalf("initial balance = %v, want 2000", pos.InitialCombinedBalance)
	}
	if pos.LegA.Quantity != pos.LegB.Quantity {
		t.Fatal("both legs must share the same quantity")
	}
	if c.State() != domain.StateOpen {
		t.Fatalf("state = %s, want open", c.State())
	}
	if !notifier.has("entry") {
		t.Fatal("entry notification missing")
	}
}

func TestEntryBelowThresholdIgnored(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000}
	venueB := &fakeVenue{name: "b", balance: 1000}
	verifier := &fakeVerifier{}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, nil, testOptions())

	sample := testSample()
	sample.Gap = 0.2
	sample.GapPct = 0.2
	c.maybeEnter(context.Background(), sample)

	if venueA.openCount() != 0 || venueB.openCount() != 0 {
		t.Fatal("no orders should go out below the threshold")
	}
	if verifier.calls != 0 {
		t.Fatal("verification should not run below the threshold")
	}
	if ldg.Position() != nil {
		t.Fatal("no position should exist")
	}
}

func TestEntryGateUsesAbsoluteGap(t *testing.T) {
	// A 25-dollar gap on a 10000 mid is only 0.25% but clears a
	// 20-dollar threshold; the gate is on price units, never percent.
	venueA := &fakeVenue{name: "a", balance: 1000, openAck: domain.OrderAck{OrderRef: "a-1", Confirmed: true}}
	venueB := &fakeVenue{name: "b", balance: 1000, openAck: domain.OrderAck{OrderRef: "b-1", Confirmed: true}}
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, testOptions())

	params := config.TradingParams{
		ConfigVersion:     1,
		HeartbeatInterval: 30,
		EntryGapThreshold: 20,
		TargetProfit:      10,
		Leverage:          3,
		PositionNotional:  1000,
	}
	c.params.Store(&params)

	sample := domain.GapSample{
		Gap:         25,
		GapPct:      0.25,
		Direction:   domain.DirectionAShortBLong,
		EntryPriceA: 10012,
		EntryPriceB: 9987,
		MidA:        10000,
		MidB:        9990,
		SampledAt:   time.Now(),
	}
	c.maybeEnter(context.Background(), sample)

	if venueA.openCount() != 1 || venueB.openCount() != 1 {
		t.Fatalf("gap 25 >= threshold 20 must enter; opens = %d/%d, want 1/1",
			venueA.openCount(), venueB.openCount())
	}
	if ldg.Position() == nil {
		t.Fatal("expected an open position")
	}
}

func TestEntryDeniedByVerifier(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000}
	venueB := &fakeVenue{name: "b", balance: 1000}
	verifier := &fakeVerifier{err: domain.ErrVerifyDenied}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, nil, testOptions())

	c.maybeEnter(context.Background(), testSample())

	if venueA.openCount() != 0 || venueB.openCount() != 0 {
		t.Fatal("denied verification must not place orders")
	}
	if ldg.Position() != nil {
		t.Fatal("no position should exist after denial")
	}
	if c.State() != domain.StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
}

func TestEntryBusyGateBlocksConcurrentAttempt(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000}
	venueB := &fakeVenue{name: "b", balance: 1000}
	verifier := &fakeVerifier{}
	c, _ := newTestCoordinator(venueA, venueB, verifier, nil, testOptions())

	c.busy.Store(true)
	c.maybeEnter(context.Background(), testSample())

	if venueA.openCount() != 0 {
		t.Fatal("a held busy flag must block the entry")
	}
}

func TestEntrySingleLegLeavesOrphan(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, openAck: domain.OrderAck{OrderRef: "a-1", Confirmed: true}}
	venueB := &fakeVenue{name: "b", balance: 1000, openErr: errors.New("rejected")}
	verifier := &fakeVerifier{}
	notifier := &recordingNotifier{}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, notifier, testOptions())

	c.maybeEnter(context.Background(), testSample())

	pos := ldg.Position()
	if pos == nil {
		t.Fatal("the surviving leg must be recorded")
	}
	if pos.LegA.Status != domain.LegStatusOpen {
		t.Fatalf("leg A status = %s, want open", pos.LegA.Status)
	}
	if pos.LegB.Status != domain.LegStatusNone || pos.LegB.Quantity != 0 {
		t.Fatalf("failed leg should be empty, got %s qty %v", pos.LegB.Status, pos.LegB.Quantity)
	}
	if !notifier.has("orphan") {
		t.Fatal("orphan notification missing")
	}
	if c.State() != domain.StateOpen {
		t.Fatalf("state = %s, want open", c.State())
	}
}

func TestEntryBothLegsFailedReturnsIdle(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, openErr: errors.New("down")}
	venueB := &fakeVenue{name: "b", balance: 1000, openErr: errors.New("down")}
	verifier := &fakeVerifier{}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, nil, testOptions())

	c.maybeEnter(context.Background(), testSample())

	if ldg.Position() != nil {
		t.Fatal("no position should survive a double failure")
	}
	if c.State() != domain.StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
}

func TestPendingLegConfirmedAgainstVenueTruth(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, openAck: domain.OrderAck{OrderRef: "a-1", Confirmed: true}}
	venueB := &fakeVenue{
		name:    "b",
		balance: 1000,
		openAck: domain.OrderAck{OrderRef: "b-1"},
		pos:     &domain.VenuePosition{Side: domain.SideLong, Quantity: 30, EntryPrice: 98.5},
	}
	verifier := &fakeVerifier{}
	c, ldg := newTestCoordinator(venueA, venueB, verifier, nil, testOptions())

	c.maybeEnter(context.Background(), testSample())

	if got := ldg.Position().LegB.Status; got != domain.LegStatusPendingOpen {
		t.Fatalf("leg B should start pending, got %s", got)
	}

	c.confirmWG.Wait()

	pos := ldg.Position()
	if pos.LegB.Status != domain.LegStatusOpen {
		t.Fatalf("leg B status = %s, want open after confirmation", pos.LegB.Status)
	}
	if pos.LegB.EntryPrice != 98.5 {
		t.Fatalf("entry price = %v, want venue-reported 98.5", pos.LegB.EntryPrice)
	}
}

// agedPosition puts a two-leg position in the ledger old enough to clear
// the exit grace.
func agedPosition(t *testing.T, ldg *ledger.Ledger, age time.Duration) {
	t.Helper()
	err := ldg.Open(domain.ArbitragePosition{
		ID:        "pos-1",
		Direction: domain.DirectionAShortBLong,
		LegA: domain.Leg{
			Venue: "a", Side: domain.SideShort, Mode: domain.LegModeLeveraged,
			Quantity: 30, EntryPrice: 100, Leverage: 3, Status: domain.LegStatusOpen,
		},
		LegB: domain.Leg{
			Venue: "b", Side: domain.SideLong, Mode: domain.LegModeLinear,
			Quantity: 30, EntryPrice: 98, Status: domain.LegStatusOpen,
		},
		InitialCombinedBalance: 2000,
		CreatedAt:              time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func TestExitWithinGraceDoesNothing(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1045}
	venueB := &fakeVenue{name: "b", balance: 1045}
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, testOptions())
	agedPosition(t, ldg, time.Second)

	c.maybeExit(context.Background())

	if venueA.closes != 0 || venueB.closes != 0 {
		t.Fatal("no closes should happen inside the exit grace")
	}
	if ldg.Position() == nil {
		t.Fatal("position must remain")
	}
}

func TestExitOnProfitTarget(t *testing.T) {
	// Short leg entry 100 vs ask 98 earns 60; long leg entry 98 vs bid
	// 100 earns 60. 120 total clears the target of 10.
	venueA := &fakeVenue{name: "a", balance: 1045, quote: domain.Quote{Bid: 97, Ask: 98, Mid: 97.5}}
	venueB := &fakeVenue{name: "b", balance: 1045, quote: domain.Quote{Bid: 100, Ask: 101, Mid: 100.5}}
	notifier := &recordingNotifier{}
	opts := testOptions()
	opts.ExitGrace = time.Second
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, notifier, opts)
	agedPosition(t, ldg, 10*time.Second)

	c.maybeExit(context.Background())

	if venueA.closes != 1 || venueB.closes != 1 {
		t.Fatalf("closes = %d/%d, want 1/1", venueA.closes, venueB.closes)
	}
	if ldg.Position() != nil {
		t.Fatal("position should be settled")
	}
	trades := ldg.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].RealizedPnl != 90 {
		t.Fatalf("realized pnl = %v, want 90 (2090 - 2000)", trades[0].RealizedPnl)
	}
	if trades[0].ForcedUnwind {
		t.Fatal("profit exit must not be flagged as forced")
	}
	if c.State() != domain.StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
	if !notifier.has("exit") {
		t.Fatal("exit notification missing")
	}
}

func TestExitBelowTargetHolds(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, quote: domain.Quote{Bid: 99.9, Ask: 100, Mid: 99.95}}
	venueB := &fakeVenue{name: "b", balance: 1000, quote: domain.Quote{Bid: 98, Ask: 98.1, Mid: 98.05}}
	opts := testOptions()
	opts.ExitGrace = time.Second
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, opts)
	agedPosition(t, ldg, 10*time.Second)

	c.maybeExit(context.Background())

	if venueA.closes != 0 || venueB.closes != 0 {
		t.Fatal("flat pnl must not trigger an exit")
	}
	if ldg.Position() == nil {
		t.Fatal("position must remain open")
	}
}

func TestForcedUnwindSingleSurvivingLeg(t *testing.T) {
	venueA := &fakeVenue{
		name: "a", balance: 980,
		pos: &domain.VenuePosition{Side: domain.SideShort, Quantity: 30, EntryPrice: 100},
	}
	venueB := &fakeVenue{name: "b", balance: 1000} // flat
	opts := testOptions()
	opts.ExitGrace = time.Second
	opts.ReconcileGrace = 2 * time.Second
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, opts)
	agedPosition(t, ldg, 10*time.Second)

	c.maybeExit(context.Background())

	if venueA.closes != 1 || venueB.closes != 1 {
		t.Fatalf("closes = %d/%d, want 1/1 (close is idempotent)", venueA.closes, venueB.closes)
	}
	trades := ldg.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if !trades[0].ForcedUnwind {
		t.Fatal("single-leg unwind must be flagged forced")
	}
}

func TestExternallyClosedPositionSettles(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1010, closeRes: domain.CloseResult{AlreadyClosed: true}}
	venueB := &fakeVenue{name: "b", balance: 1010, closeRes: domain.CloseResult{AlreadyClosed: true}}
	opts := testOptions()
	opts.ExitGrace = time.Second
	opts.ReconcileGrace = 2 * time.Second
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, opts)
	agedPosition(t, ldg, 10*time.Second)

	c.maybeExit(context.Background())

	if ldg.Position() != nil {
		t.Fatal("externally closed position should settle")
	}
	trades := ldg.Trades()
	if len(trades) != 1 || trades[0].RealizedPnl != 20 {
		t.Fatalf("expected one trade with pnl 20, got %+v", trades)
	}
}

func TestCloseFailureKeepsPositionOpen(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1045, quote: domain.Quote{Bid: 97, Ask: 98, Mid: 97.5}}
	venueB := &fakeVenue{
		name: "b", balance: 1045,
		quote:    domain.Quote{Bid: 100, Ask: 101, Mid: 100.5},
		closeErr: errors.New("venue down"),
	}
	opts := testOptions()
	opts.ExitGrace = time.Second
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, opts)
	agedPosition(t, ldg, 10*time.Second)

	c.maybeExit(context.Background())

	if ldg.Position() == nil {
		t.Fatal("a failed close must keep the position for retry")
	}
	if len(ldg.Trades()) != 0 {
		t.Fatal("nothing should settle on a failed close")
	}
	if c.State() != domain.StateOpen {
		t.Fatalf("state = %s, want open", c.State())
	}
}

func TestHaltStopsEvaluation(t *testing.T) {
	venueA := &fakeVenue{name: "a", balance: 1000, openAck: domain.OrderAck{Confirmed: true}}
	venueB := &fakeVenue{name: "b", balance: 1000, openAck: domain.OrderAck{Confirmed: true}}
	c, ldg := newTestCoordinator(venueA, venueB, &fakeVerifier{}, nil, testOptions())

	samples := make(chan domain.GapSample, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, samples)
	}()

	c.Halt()
	samples <- testSample()

	time.Sleep(50 * time.Millisecond)
	if venueA.openCount() != 0 {
		t.Fatal("halted coordinator must not place orders")
	}
	if ldg.Position() != nil {
		t.Fatal("halted coordinator must not open positions")
	}

	cancel()
	<-done
}
