package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quantfell/pairbot/internal/domain"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComputeShortDirectionWins(t *testing.T) {
	// bidA - askB = 4, bidB - askA = -8: short A, long B.
	quoteA := domain.Quote{Bid: 102, Ask: 104, Mid: 103}
	quoteB := domain.Quote{Bid: 96, Ask: 98, Mid: 97}

	sample, ok := Compute(quoteA, quoteB, time.Now())
	if !ok {
		t.Fatal("expected a valid sample")
	}
	if sample.Direction != domain.DirectionAShortBLong {
		t.Fatalf("direction = %s, want %s", sample.Direction, domain.DirectionAShortBLong)
	}
	if sample.Gap != 4 {
		t.Fatalf("gap = %v, want 4", sample.Gap)
	}
	if sample.EntryPriceA != 102 || sample.EntryPriceB != 98 {
		t.Fatalf("entry prices = %v/%v, want 102/98", sample.EntryPriceA, sample.EntryPriceB)
	}
}

func TestComputeLongDirectionWins(t *testing.T) {
	quoteA := domain.Quote{Bid: 96, Ask: 98, Mid: 97}
	quoteB := domain.Quote{Bid: 103, Ask: 105, Mid: 104}

	sample, ok := Compute(quoteA, quoteB, time.Now())
	if !ok {
		t.Fatal("expected a valid sample")
	}
	if sample.Direction != domain.DirectionALongBShort {
		t.Fatalf("direction = %s, want %s", sample.Direction, domain.DirectionALongBShort)
	}
	if sample.Gap != 5 {
		t.Fatalf("gap = %v, want 5", sample.Gap)
	}
	if sample.EntryPriceA != 98 || sample.EntryPriceB != 103 {
		t.Fatalf("entry prices = %v/%v, want 98/103", sample.EntryPriceA, sample.EntryPriceB)
	}
}

func TestComputeTieGoesLong(t *testing.T) {
	// Symmetric books make both gaps equal; the long direction wins.
	quoteA := domain.Quote{Bid: 100, Ask: 100, Mid: 100}
	quoteB := domain.Quote{Bid: 100, Ask: 100, Mid: 100}

	sample, ok := Compute(quoteA, quoteB, time.Now())
	if !ok {
		t.Fatal("expected a valid sample")
	}
	if sample.Direction != domain.DirectionALongBShort {
		t.Fatalf("tie should favor long, got %s", sample.Direction)
	}
}

func TestComputeGapPctRelativeToMidA(t *testing.T) {
	quoteA := domain.Quote{Bid: 102, Ask: 104, Mid: 100}
	quoteB := domain.Quote{Bid: 96, Ask: 98, Mid: 97}

	sample, _ := Compute(quoteA, quoteB, time.Now())
	if sample.GapPct != 4 {
		t.Fatalf("gap pct = %v, want 4", sample.GapPct)
	}
}

func TestComputeRejectsDegenerateQuotes(t *testing.T) {
	cases := []struct {
		name   string
		quoteA domain.Quote
		quoteB domain.Quote
	}{
		{"zero mid A", domain.Quote{Bid: 1, Ask: 1}, domain.Quote{Bid: 1, Ask: 1, Mid: 1}},
		{"zero bid B", domain.Quote{Bid: 1, Ask: 1, Mid: 1}, domain.Quote{Ask: 1, Mid: 1}},
		{"empty", domain.Quote{}, domain.Quote{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := Compute(tc.quoteA, tc.quoteB, time.Now()); ok {
				t.Fatal("expected degenerate quotes to be rejected")
			}
		})
	}
}

type staticVenue struct {
	name  string
	quote domain.Quote
	err   error
}

func (v *staticVenue) Name() string { return v.name }
func (v *staticVenue) GetQuote(ctx context.Context, qty float64) (domain.Quote, error) {
	return v.quote, v.err
}
func (v *staticVenue) Open(ctx context.Context, req domain.OpenRequest) (domain.OrderAck, error) {
	return domain.OrderAck{}, nil
}
func (v *staticVenue) Close(ctx context.Context) (domain.CloseResult, error) {
	return domain.CloseResult{}, nil
}
func (v *staticVenue) GetOpenPosition(ctx context.Context) (*domain.VenuePosition, error) {
	return nil, nil
}
func (v *staticVenue) GetBalance(ctx context.Context) (float64, error) { return 0, nil }

func TestRunEmitsSamples(t *testing.T) {
	venueA := &staticVenue{name: "a", quote: domain.Quote{Bid: 102, Ask: 104, Mid: 103}}
	venueB := &staticVenue{name: "b", quote: domain.Quote{Bid: 96, Ask: 98, Mid: 97}}

	m := New(venueA, venueB, Options{
		Interval:      time.Millisecond,
		ProbeQuantity: 1,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case sample := <-m.Samples():
		if sample.Direction != domain.DirectionAShortBLong {
			t.Fatalf("unexpected direction %s", sample.Direction)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample within a second")
	}

	if m.Latest() == nil {
		t.Fatal("latest snapshot should be set after a cycle")
	}
}

func TestRunSkipsFailedCycles(t *testing.T) {
	venueA := &staticVenue{name: "a", err: context.DeadlineExceeded}
	venueB := &staticVenue{name: "b", quote: domain.Quote{Bid: 96, Ask: 98, Mid: 97}}

	m := New(venueA, venueB, Options{
		Interval:      time.Millisecond,
		RetryDelay:    time.Millisecond,
		ProbeQuantity: 1,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-m.Samples():
		t.Fatal("no sample should be emitted when a venue quote fails")
	case <-time.After(50 * time.Millisecond):
	}
}
