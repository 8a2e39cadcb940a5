// Package feed bridges the Polymarket WebSocket market channel into the
// in-memory market store.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/alanyoungcy/polymirror/internal/market"
	"github.com/alanyoungcy/polymirror/internal/platform/polymarket"
)

// Subscription ties a market's two outcome tokens to its identifiers. The
// WebSocket feed keys messages by asset ID, so this table recovers which
// market and outcome a book snapshot belongs to.
type Subscription struct {
	MarketID    string
	ConditionID string
	YesAssetID  string
	NoAssetID   string
}

type assetBinding struct {
	marketID    string
	conditionID string
	outcome     domain.Outcome
}

// Feed subscribes to book snapshots for the configured markets and applies
// them to the store. It reconnects with backoff on disconnect.
type Feed struct {
	wsURL     string
	store     *market.Store
	assets    map[string]assetBinding
	assetIDs  []string
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a feed for the given market subscriptions.
func New(wsURL string, subs []Subscription, store *market.Store, logger *slog.Logger) *Feed {
	assets := make(map[string]assetBinding, len(subs)*2)
	assetIDs := make([]string, 0, len(subs)*2)
	for _, sub := range subs {
		if sub.YesAssetID != "" {
			assets[sub.YesAssetID] = assetBinding{sub.MarketID, sub.ConditionID, domain.OutcomeYes}
			assetIDs = append(assetIDs, sub.YesAssetID)
		}
		if sub.NoAssetID != "" {
			assets[sub.NoAssetID] = assetBinding{sub.MarketID, sub.ConditionID, domain.OutcomeNo}
			assetIDs = append(assetIDs, sub.NoAssetID)
		}
	}
	return &Feed{
		wsURL:    wsURL,
		store:    store,
		assets:   assets,
		assetIDs: assetIDs,
		logger:   logger.With(slog.String("component", "market_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects, subscribes to book snapshots for the configured assets, and
// runs until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no asset IDs to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *Feed) runConnection(ctx context.Context) error {
	client := polymarket.NewWSClient(f.wsURL)
	defer client.Close()

	client.OnBook(f.applyBook)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Subscribe(ctx, f.assetIDs); err != nil {
		return err
	}
	f.logger.Info("market feed subscribed", slog.Int("assets", len(f.assetIDs)))

	<-ctx.Done()
	return ctx.Err()
}

// applyBook resolves the asset binding and pushes the snapshot into the
// store. Snapshots for unknown assets are dropped.
func (f *Feed) applyBook(upd domain.BookUpdate) {
	binding, ok := f.assets[upd.AssetID]
	if !ok {
		return
	}
	upd.MarketID = binding.marketID
	if upd.ConditionID == "" {
		upd.ConditionID = binding.conditionID
	}
	upd.Outcome = binding.outcome
	f.store.UpdateOrderBook(upd)
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
