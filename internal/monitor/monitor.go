// Package monitor polls both venues and turns paired quotes into gap
// samples for the execution coordinator.
package monitor

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/quantfell/pairbot/internal/domain"
)

// Monitor samples top-of-book quotes from the two venues on a fixed
// interval and emits one GapSample per successful cycle. Consumers read
// from Samples; slow consumers only ever see the freshest sample because
// stale ones are dropped before sending.
type Monitor struct {
	venueA        domain.VenueAdapter
	venueB        domain.VenueAdapter
	probeQuantity float64
	interval      time.Duration
	retryDelay    time.Duration
	publisher     domain.GapPublisher
	logger        *slog.Logger

	samples chan domain.GapSample
	latest  atomic.Pointer[domain.GapSample]
}

// Options configures a Monitor.
type Options struct {
	ProbeQuantity float64
	Interval      time.Duration
	RetryDelay    time.Duration
	Publisher     domain.GapPublisher // optional
}

// New creates a Monitor over the given venue pair.
func New(venueA, venueB domain.VenueAdapter, opts Options, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 200 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.ProbeQuantity <= 0 {
		opts.ProbeQuantity = 1.0
	}

	return &Monitor{
		venueA:        venueA,
		venueB:        venueB,
		probeQuantity: opts.ProbeQuantity,
		interval:      opts.Interval,
		retryDelay:    opts.RetryDelay,
		publisher:     opts.Publisher,
		logger:        logger.With(slog.String("component", "monitor")),
		samples:       make(chan domain.GapSample, 1),
	}
}

// Samples returns the channel of evaluated gap samples.
func (m *Monitor) Samples() <-chan domain.GapSample {
	return m.samples
}

// Latest returns the most recent sample, or nil before the first cycle.
func (m *Monitor) Latest() *domain.GapSample {
	return m.latest.Load()
}

// Run polls until the context is cancelled. Quote failures on either venue
// skip the cycle; they are never surfaced to callers.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("monitor started",
		slog.String("venue_a", m.venueA.Name()),
		slog.String("venue_b", m.venueB.Name()),
		slog.Duration("interval", m.interval),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle fetches one quote pair and publishes the resulting sample.
func (m *Monitor) cycle(ctx context.Context) {
	quoteA, err := m.venueA.GetQuote(ctx, m.probeQuantity)
	if err != nil {
		m.logger.Debug("quote fetch failed, skipping cycle",
			slog.String("venue", m.venueA.Name()),
			slog.String("error", err.Error()),
		)
		m.backoff(ctx)
		return
	}
	quoteB, err := m.venueB.GetQuote(ctx, m.probeQuantity)
	if err != nil {
		m.logger.Debug("quote fetch failed, skipping cycle",
			slog.String("venue", m.venueB.Name()),
			slog.String("error", err.Error()),
		)
		m.backoff(ctx)
		return
	}

	sample, ok := Compute(quoteA, quoteB, time.Now().UTC())
	if !ok {
		return
	}

	m.latest.Store(&sample)

	// Latest-wins: drop the stale buffered sample before sending.
	select {
	case <-m.samples:
	default:
	}
	select {
	case m.samples <- sample:
	default:
	}

	if m.publisher != nil {
		if err := m.publisher.PublishGap(ctx, sample); err != nil {
			m.logger.Debug("gap publish failed", slog.String("error", err.Error()))
		}
	}
}

// backoff sleeps for the retry delay unless the context ends first.
func (m *Monitor) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelay):
	}
}

// Compute evaluates the gap between two quotes. The short-A direction
// earns bidA minus askB; the long-A direction earns bidB minus askA. The
// larger gap wins, and an exact tie goes to the long direction. The
// comparison is on signed values, not magnitudes: when both gaps are
// negative the less negative one is reported, never the larger loss. The
// percentage is always relative to venue A's mid. Returns false when the
// quotes cannot produce a meaningful gap.
func Compute(quoteA, quoteB domain.Quote, at time.Time) (domain.GapSample, bool) {
	if quoteA.Mid <= 0 || quoteA.Bid <= 0 || quoteA.Ask <= 0 || quoteB.Bid <= 0 || quoteB.Ask <= 0 {
		return domain.GapSample{}, false
	}

	gapShort := quoteA.Bid - quoteB.Ask
	gapLong := quoteB.Bid - quoteA.Ask

	sample := domain.GapSample{
		MidA:      quoteA.Mid,
		MidB:      quoteB.Mid,
		SampledAt: at,
	}

	if gapShort > gapLong {
		sample.Gap = gapShort
		sample.Direction = domain.DirectionAShortBLong
		sample.EntryPriceA = quoteA.Bid
		sample.EntryPriceB = quoteB.Ask
	} else {
		sample.Gap = gapLong
		sample.Direction = domain.DirectionALongBShort
		sample.EntryPriceA = quoteA.Ask
		sample.EntryPriceB = quoteB.Bid
	}
	sample.GapPct = math.Abs(sample.Gap) / quoteA.Mid * 100

	return sample, true
}
