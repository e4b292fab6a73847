// Package journal appends settled trades and orphaned-leg incidents to
// PostgreSQL for offline audit. The trading process never reads it back;
// losing the journal never blocks trading.
package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quantfell/pairbot/internal/domain"
)

// schema is applied on startup. The journal owns its two tables and
// nothing else touches them.
const schema = `
CREATE TABLE IF NOT EXISTS trade_journal (
	id BIGSERIAL PRIMARY KEY,
	position_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_gap_pct DOUBLE PRECISION NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	initial_balance DOUBLE PRECISION NOT NULL,
	final_balance DOUBLE PRECISION NOT NULL,
	forced_unwind BOOLEAN NOT NULL DEFAULT FALSE,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orphan_journal (
	id BIGSERIAL PRIMARY KEY,
	position_id TEXT NOT NULL,
	venue TEXT NOT NULL,
	detail TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Options holds connection parameters for the journal.
type Options struct {
	DSN      string
	MaxConns int
	MinConns int
}

// PostgresJournal implements domain.TradeJournal over a pgx pool.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// New connects, pings and ensures the journal tables exist.
func New(ctx context.Context, opts Options) (*PostgresJournal, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("journal: parse config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = int32(opts.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ensure schema: %w", err)
	}

	return &PostgresJournal{pool: pool}, nil
}

// RecordTrade appends one settled trade.
func (j *PostgresJournal) RecordTrade(ctx context.Context, trade domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_journal
			(position_id, direction, entry_gap_pct, realized_pnl,
			 initial_balance, final_balance, forced_unwind, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := j.pool.Exec(ctx, query,
		trade.PositionID,
		string(trade.Direction),
		trade.EntryGapPct,
		trade.RealizedPnl,
		trade.InitialBal,
		trade.FinalBal,
		trade.ForcedUnwind,
		trade.OpenedAt,
		trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: record trade %s: %w", trade.PositionID, err)
	}
	return nil
}

// RecordOrphan appends one orphaned-leg incident.
func (j *PostgresJournal) RecordOrphan(ctx context.Context, positionID, venue, detail string) error {
	const query = `INSERT INTO orphan_journal (position_id, venue, detail) VALUES ($1, $2, $3)`

	if _, err := j.pool.Exec(ctx, query, positionID, venue, detail); err != nil {
		return fmt.Errorf("journal: record orphan %s: %w", positionID, err)
	}
	return nil
}

// Close releases the connection pool.
func (j *PostgresJournal) Close() error {
	j.pool.Close()
	return nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*PostgresJournal)(nil)
