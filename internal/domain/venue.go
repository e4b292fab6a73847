package domain

import (
	"context"
	"time"
)

// OpenRequest carries everything a venue needs to open a leg.
type OpenRequest struct {
	Side       Side
	Quantity   float64
	Price      float64 // reference price at submission, venues may fill better
	Leverage   float64
	Collateral float64
}

// OrderAck is the venue's response to an open request. Confirmed is false
// when the venue only returned an order reference and the fill must be
// confirmed by polling.
type OrderAck struct {
	OrderRef  string
	Confirmed bool
	FillPrice float64
}

// CloseResult reports the outcome of a close request. AlreadyClosed means
// the venue had no open position; callers treat that as success.
type CloseResult struct {
	OrderRef      string
	AlreadyClosed bool
}

// VenuePosition is the venue's own view of an open position.
type VenuePosition struct {
	Side       Side
	Quantity   float64
	EntryPrice float64
	OpenedAt   time.Time
}

// VenueAdapter abstracts a single trading venue. GetOpenPosition returns
// nil when the venue reports no open position.
type VenueAdapter interface {
	Name() string
	GetQuote(ctx context.Context, quantity float64) (Quote, error)
	Open(ctx context.Context, req OpenRequest) (OrderAck, error)
	Close(ctx context.Context) (CloseResult, error)
	GetOpenPosition(ctx context.Context) (*VenuePosition, error)
	GetBalance(ctx context.Context) (float64, error)
}
