package domain

import "time"

// Quote is a top-of-book snapshot from a single venue.
type Quote struct {
	Bid       float64
	Ask       float64
	Mid       float64
	SampledAt time.Time
}

// Direction names which venue carries the short leg of a pair.
type Direction string

const (
	// DirectionAShortBLong shorts venue A and longs venue B.
	DirectionAShortBLong Direction = "a_short_b_long"
	// DirectionALongBShort longs venue A and shorts venue B.
	DirectionALongBShort Direction = "a_long_b_short"
)

// GapSample is one evaluated price gap between the two venues.
// Gap is signed in the winning direction; GapPct is always non-negative
// and expressed as a percentage of venue A's mid.
type GapSample struct {
	Gap         float64
	GapPct      float64
	Direction   Direction
	EntryPriceA float64 // price the venue-A leg would fill at
	EntryPriceB float64 // price the venue-B leg would fill at
	MidA        float64
	MidB        float64
	SampledAt   time.Time
}
