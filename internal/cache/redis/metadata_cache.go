package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polymirror/internal/domain"
)

// MetadataCache implements domain.MetadataCache using JSON-serialized
// metadata under per-market keys so repeated redemption lookups within the
// TTL hit Redis instead of the Gamma API.
type MetadataCache struct {
	rdb *redis.Client
}

// NewMetadataCache creates a MetadataCache backed by the given Client.
func NewMetadataCache(c *Client) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying()}
}

func metadataKey(marketID string) string { return "metadata:" + marketID }

// Get retrieves metadata for a market. It returns domain.ErrNotFound when
// the key does not exist or has expired.
func (mc *MetadataCache) Get(ctx context.Context, marketID string) (domain.MarketMetadata, error) {
	data, err := mc.rdb.Get(ctx, metadataKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get metadata %s: %w", marketID, err)
	}

	var meta domain.MarketMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("redis: unmarshal metadata %s: %w", marketID, err)
	}
	return meta, nil
}

// Set stores metadata for a market with the given TTL.
func (mc *MetadataCache) Set(ctx context.Context, meta domain.MarketMetadata, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %s: %w", meta.MarketID, err)
	}

	if err := mc.rdb.Set(ctx, metadataKey(meta.MarketID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metadata %s: %w", meta.MarketID, err)
	}
	return nil
}
