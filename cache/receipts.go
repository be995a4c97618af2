// Package cache keeps the account's consumed payment receipts in memory so
// repeated deposit lookups do not refetch them from the backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/vitwit/sendtag/logger"
	"github.com/vitwit/sendtag/types"
)

const receiptsKey = "receipts"

// ReceiptSource loads receipts from the backend.
type ReceiptSource interface {
	Receipts(ctx context.Context) ([]types.Receipt, error)
}

// ReceiptCache is a read-through cache over a ReceiptSource.
type ReceiptCache struct {
	source ReceiptSource
	cache  *bigcache.BigCache
	logger logger.Logger
}

// NewReceiptCache creates a cache whose entries live for ttl.
func NewReceiptCache(source ReceiptSource, ttl time.Duration, l logger.Logger) (*ReceiptCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 64
	cfg.MaxEntrySize = 4096
	cfg.CleanWindow = ttl
	cfg.Verbose = false

	c, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create receipt cache: %w", err)
	}
	return &ReceiptCache{source: source, cache: c, logger: logger.OrNoop(l)}, nil
}

// Receipts returns cached receipts, loading them from the source on a miss.
func (c *ReceiptCache) Receipts(ctx context.Context) ([]types.Receipt, error) {
	if data, err := c.cache.Get(receiptsKey); err == nil {
		var receipts []types.Receipt
		if err := json.Unmarshal(data, &receipts); err == nil {
			return receipts, nil
		}
		c.logger.Warn("dropping corrupt receipt cache entry", nil)
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("receipt cache read failed", map[string]any{"error": err})
	}

	return c.Refresh(ctx)
}

// Refresh loads receipts from the source and replaces the cached entry.
func (c *ReceiptCache) Refresh(ctx context.Context) ([]types.Receipt, error) {
	receipts, err := c.source.Receipts(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(receipts)
	if err == nil {
		err = c.cache.Set(receiptsKey, data)
	}
	if err != nil {
		c.logger.Warn("receipt cache write failed", map[string]any{"error": err})
	}
	return receipts, nil
}

// Invalidate drops the cached receipts. Called once a confirmation consumes a receipt.
func (c *ReceiptCache) Invalidate() {
	if err := c.cache.Delete(receiptsKey); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.logger.Warn("receipt cache invalidate failed", map[string]any{"error": err})
	}
}

// Close releases the cache's background cleaner.
func (c *ReceiptCache) Close() error {
	return c.cache.Close()
}
