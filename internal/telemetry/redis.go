// Package telemetry publishes gap samples, trade records and status
// snapshots to Redis for external dashboards. Publishing is strictly
// fire-and-forget; the trading path never depends on it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantfell/pairbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	gapChannel    = "pairbot:gaps"
	statusChannel = "pairbot:status"
	tradeStream   = "pairbot:trades"

	// tradeStreamMaxLen caps the trade stream via XADD MAXLEN ~.
	tradeStreamMaxLen int64 = 10000
)

// Options holds Redis connection parameters.
type Options struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Publisher implements the gap, status and trade publishing interfaces
// over one Redis connection pool. Gap samples and status snapshots go out
// on pub/sub channels; settled trades additionally land in a capped
// stream so late-attaching dashboards can backfill.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher connects and pings the Redis server.
func NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		PoolSize:   opts.PoolSize,
		MaxRetries: opts.MaxRetries,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("telemetry: ping: %w", err)
	}

	return &Publisher{rdb: rdb}, nil
}

// PublishGap sends one gap sample on the gap channel.
func (p *Publisher) PublishGap(ctx context.Context, sample domain.GapSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("telemetry: marshal gap: %w", err)
	}
	if err := p.rdb.Publish(ctx, gapChannel, data).Err(); err != nil {
		return fmt.Errorf("telemetry: publish gap: %w", err)
	}
	return nil
}

// PublishStatus sends one status snapshot on the status channel.
func (p *Publisher) PublishStatus(ctx context.Context, status domain.StatusSnapshot) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("telemetry: marshal status: %w", err)
	}
	if err := p.rdb.Publish(ctx, statusChannel, data).Err(); err != nil {
		return fmt.Errorf("telemetry: publish status: %w", err)
	}
	return nil
}

// PublishTrade appends a settled trade to the capped trade stream.
func (p *Publisher) PublishTrade(ctx context.Context, trade domain.TradeRecord) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("telemetry: marshal trade: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: tradeStream,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": data},
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("telemetry: publish trade: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Compile-time interface checks.
var (
	_ domain.GapPublisher    = (*Publisher)(nil)
	_ domain.StatusPublisher = (*Publisher)(nil)
	_ domain.TradePublisher  = (*Publisher)(nil)
)
