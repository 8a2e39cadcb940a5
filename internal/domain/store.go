package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// TradeStore is the durable-persistence collaborator for the engine's trade
// log. Records carry stable unique ids so implementations can deduplicate
// idempotently.
type TradeStore interface {
	InsertTrade(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

// PositionStore mirrors the engine's position ledger.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Delete(ctx context.Context, marketID string) error
	List(ctx context.Context) ([]Position, error)
}

// AccountStore mirrors the engine's balance and realized PnL accumulator.
type AccountStore interface {
	Save(ctx context.Context, balance, realizedPnL float64) error
	Load(ctx context.Context) (balance, realizedPnL float64, err error)
}

// CopyTradeStore records detected copy-trades keyed by transaction hash;
// re-inserting a known hash must be a no-op.
type CopyTradeStore interface {
	InsertDetected(ctx context.Context, dt DetectedTrade) error
	MarkOutcome(ctx context.Context, txHash string, executed bool, execErr string) error
	ListRecent(ctx context.Context, opts ListOpts) ([]DetectedTrade, error)
}

// MetadataCache caches per-market resolution metadata with a fixed TTL.
type MetadataCache interface {
	Get(ctx context.Context, marketID string) (MarketMetadata, error)
	Set(ctx context.Context, meta MarketMetadata, ttl time.Duration) error
}

// SignalBus provides pub/sub fan-out of engine and copy-trading events to
// the dashboard hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// TradeArchiver receives trade records evicted from the engine's bounded
// in-memory log for long-term storage.
type TradeArchiver interface {
	Archive(ctx context.Context, records []TradeRecord) error
}
