package copytrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// marketMetadata returns resolution metadata for a market, preferring the
// cache so repeated redemption activities within the TTL cost one fetch.
func (s *Service) marketMetadata(ctx context.Context, marketID string) (domain.MarketMetadata, error) {
	meta, err := s.opts.Cache.Get(ctx, marketID)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("metadata cache read failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.MarketMetadata{}, err
	}
	meta, err = s.metadata.MarketMetadata(ctx, marketID)
	if err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("fetch metadata: %w", err)
	}

	s.mu.Lock()
	ttl := s.cfg.MetadataTTL
	s.mu.Unlock()
	if err := s.opts.Cache.Set(ctx, meta, ttl); err != nil {
		s.logger.Warn("metadata cache write failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return meta, nil
}

// publishDetected fans a detected trade out to the signal bus for the
// dashboard. Failures are logged, never propagated.
func (s *Service) publishDetected(ctx context.Context, dt domain.DetectedTrade) {
	if s.opts.Bus == nil {
		return
	}
	payload, err := json.Marshal(dt)
	if err != nil {
		return
	}
	if err := s.opts.Bus.Publish(ctx, "copytrades", payload); err != nil {
		s.logger.Debug("bus publish failed",
			slog.String("channel", "copytrades"),
			slog.String("error", err.Error()),
		)
	}
}

// memoryMetadataCache is the in-process fallback used when no Redis cache is
// configured.
type memoryMetadataCache struct {
	mu      sync.Mutex
	entries map[string]memoryMetadataEntry
	now     func() time.Time
}

type memoryMetadataEntry struct {
	meta      domain.MarketMetadata
	expiresAt time.Time
}

func newMemoryMetadataCache() *memoryMetadataCache {
	return &memoryMetadataCache{
		entries: make(map[string]memoryMetadataEntry),
		now:     time.Now,
	}
}

func (c *memoryMetadataCache) Get(_ context.Context, marketID string) (domain.MarketMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[marketID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, marketID)
		return domain.MarketMetadata{}, domain.ErrNotFound
	}
	return e.meta, nil
}

func (c *memoryMetadataCache) Set(_ context.Context, meta domain.MarketMetadata, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[meta.MarketID] = memoryMetadataEntry{meta: meta, expiresAt: c.now().Add(ttl)}
	return nil
}
