package domain

import "time"

// Side is the direction of a single leg.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// LegMode distinguishes how a leg's unrealized PnL is computed.
type LegMode string

const (
	// LegModeLeveraged marks a margined leg; PnL scales with leverage
	// against the notional.
	LegModeLeveraged LegMode = "leveraged"
	// LegModeLinear marks a plain spot-style leg; PnL is price delta
	// times signed quantity.
	LegModeLinear LegMode = "linear"
)

// LegStatus tracks the lifecycle of one leg.
type LegStatus string

const (
	LegStatusNone        LegStatus = "none"
	LegStatusPendingOpen LegStatus = "pending_open"
	LegStatusOpen        LegStatus = "open"
	LegStatusClosed      LegStatus = "closed"
)

// Leg is one side of an arbitrage position on a single venue.
type Leg struct {
	Venue      string
	Side       Side
	Mode       LegMode
	Quantity   float64
	EntryPrice float64
	Collateral float64
	Exposure   float64 // quantity * entry price
	Leverage   float64
	Status     LegStatus
	OrderRef   string
	OpenedAt   time.Time
}

// ArbitragePosition pairs the two legs opened against a gap.
type ArbitragePosition struct {
	ID                     string
	Direction              Direction
	LegA                   Leg
	LegB                   Leg
	EntryGap               float64
	EntryGapPct            float64
	InitialCombinedBalance float64
	CreatedAt              time.Time
}

// TradeRecord is the settled outcome of one completed round trip.
type TradeRecord struct {
	PositionID   string
	Direction    Direction
	EntryGapPct  float64
	RealizedPnl  float64
	InitialBal   float64
	FinalBal     float64
	OpenedAt     time.Time
	ClosedAt     time.Time
	ForcedUnwind bool
}

// CoordinatorState is the execution loop's lifecycle state.
type CoordinatorState string

const (
	StateIdle     CoordinatorState = "idle"
	StateEntering CoordinatorState = "entering"
	StateOpen     CoordinatorState = "open"
	StateExiting  CoordinatorState = "exiting"
)

// StatusSnapshot aggregates the live view for telemetry and operators.
type StatusSnapshot struct {
	State         CoordinatorState
	LatestGap     *GapSample
	Position      *ArbitragePosition
	UnrealizedPnl float64
	BalanceA      float64
	BalanceB      float64
	TradeCount    int
	TotalPnl      float64
	SampledAt     time.Time
}
