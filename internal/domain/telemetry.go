package domain

import "context"

// GapPublisher fans gap samples out to external consumers. Implementations
// must never block the monitor loop; drop on backpressure instead.
type GapPublisher interface {
	PublishGap(ctx context.Context, sample GapSample) error
}

// StatusPublisher pushes coordinator status snapshots.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status StatusSnapshot) error
}

// TradePublisher streams settled trades to external consumers.
type TradePublisher interface {
	PublishTrade(ctx context.Context, trade TradeRecord) error
}

// TradeJournal records settled trades and orphaned-leg incidents for audit.
// The trading process only ever appends; it never reads the journal back.
type TradeJournal interface {
	RecordTrade(ctx context.Context, trade TradeRecord) error
	RecordOrphan(ctx context.Context, positionID, venue, detail string) error
	Close() error
}
