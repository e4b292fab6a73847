// Package ledger tracks the single arbitrage position and the settled
// trade history.
package ledger

import (
	"sync"
	"time"

	"github.com/quantfell/pairbot/internal/domain"
)

// Ledger holds at most one open ArbitragePosition plus the in-memory
// history of settled trades. All methods are safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	position *domain.ArbitragePosition
	trades   []domain.TradeRecord
	totalPnl float64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Open records a new position. Returns ErrPositionExists if one is
// already held; the single-position invariant is enforced here as well as
// by the coordinator's busy gate.
func (l *Ledger) Open(pos domain.ArbitragePosition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position != nil {
		return domain.ErrPositionExists
	}
	p := pos
	l.position = &p
	return nil
}

// Position returns a copy of the open position, or nil when flat.
func (l *Ledger) Position() *domain.ArbitragePosition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.position == nil {
		return nil
	}
	p := *l.position
	return &p
}

// UpdateLeg replaces one leg of the open position, keyed by venue name.
func (l *Ledger) UpdateLeg(venue string, fn func(*domain.Leg)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return domain.ErrNoPosition
	}
	switch venue {
	case l.position.LegA.Venue:
		fn(&l.position.LegA)
	case l.position.LegB.Venue:
		fn(&l.position.LegB)
	default:
		return domain.ErrNoPosition
	}
	return nil
}

// Settle closes out the open position: the trade is appended to the
// history and the position slot is cleared.
func (l *Ledger) Settle(finalBalance float64, forced bool, closedAt time.Time) (domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return domain.TradeRecord{}, domain.ErrNoPosition
	}

	pos := l.position
	rec := domain.TradeRecord{
		PositionID:   pos.ID,
		Direction:    pos.Direction,
		EntryGapPct:  pos.EntryGapPct,
		RealizedPnl:  finalBalance - pos.InitialCombinedBalance,
		InitialBal:   pos.InitialCombinedBalance,
		FinalBal:     finalBalance,
		OpenedAt:     pos.CreatedAt,
		ClosedAt:     closedAt,
		ForcedUnwind: forced,
	}

	l.trades = append(l.trades, rec)
	l.totalPnl += rec.RealizedPnl
	l.position = nil

	return rec, nil
}

// Stats returns the running trade count, total and average realized PnL.
func (l *Ledger) Stats() (count int, total, average float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count = len(l.trades)
	total = l.totalPnl
	if count > 0 {
		average = total / float64(count)
	}
	return count, total, average
}

// Trades returns a copy of the settled trade history.
func (l *Ledger) Trades() []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// LegUnrealizedPnl computes one leg's unrealized PnL from a fresh quote.
// A leveraged leg earns the entry-relative price move scaled by notional
// and leverage; a linear leg earns the raw price delta times signed
// quantity. Shorts exit at the ask, longs exit at the bid.
func LegUnrealizedPnl(leg domain.Leg, quote domain.Quote) float64 {
	if leg.Status != domain.LegStatusOpen && leg.Status != domain.LegStatusPendingOpen {
		return 0
	}
	if leg.EntryPrice <= 0 {
		return 0
	}

	switch leg.Mode {
	case domain.LegModeLeveraged:
		var changePct float64
		if leg.Side == domain.SideShort {
			changePct = (leg.EntryPrice - quote.Ask) / leg.EntryPrice
		} else {
			changePct = (quote.Bid - leg.EntryPrice) / leg.EntryPrice
		}
		// Exposure is quantity*entry, i.e. margin notional scaled by
		// leverage, so the move applies to the full exposure.
		return changePct * leg.Quantity * leg.EntryPrice
	default:
		exit := quote.Bid
		signedQty := leg.Quantity
		if leg.Side == domain.SideShort {
			exit = quote.Ask
			signedQty = -signedQty
		}
		return (exit - leg.EntryPrice) * signedQty
	}
}

// UnrealizedPnl sums the unrealized PnL of both legs from fresh quotes.
func UnrealizedPnl(pos domain.ArbitragePosition, quoteA, quoteB domain.Quote) float64 {
	return LegUnrealizedPnl(pos.LegA, quoteA) + LegUnrealizedPnl(pos.LegB, quoteB)
}
