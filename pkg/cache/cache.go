// Package cache provides the Redis-backed hot cache for broadcast snapshots
// and liveness stats. The realtime layer functions without it; every caller
// treats the cache as optional.
package cache

import (
	"context"
	"fmt"
	"time"

	"markethub/pkg/config"

	"github.com/redis/go-redis/v9"
)

// Key layout
const (
	stockKeyPrefix = "product:stock:"
	priceKeyPrefix = "product:price:"
	livenessKey    = "stats:liveness"
)

// snapshotTTL bounds how long a stale snapshot outlives its last broadcast
const snapshotTTL = 24 * time.Hour

// Cache wraps a Redis client for write-through snapshots
type Cache struct {
	client *redis.Client
}

// Connect opens a Redis connection and verifies it with a ping
func Connect(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{client: client}, nil
}

// SetStockSnapshot stores the latest broadcast stock data for a product
func (c *Cache) SetStockSnapshot(ctx context.Context, productID string, data []byte) error {
	return c.client.Set(ctx, stockKeyPrefix+productID, data, snapshotTTL).Err()
}

// GetStockSnapshot reads the latest stock data for a product, nil if absent
func (c *Cache) GetStockSnapshot(ctx context.Context, productID string) ([]byte, error) {
	data, err := c.client.Get(ctx, stockKeyPrefix+productID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// SetPriceSnapshot stores the latest broadcast price data for a product
func (c *Cache) SetPriceSnapshot(ctx context.Context, productID string, data []byte) error {
	return c.client.Set(ctx, priceKeyPrefix+productID, data, snapshotTTL).Err()
}

// GetPriceSnapshot reads the latest price data for a product, nil if absent
func (c *Cache) GetPriceSnapshot(ctx context.Context, productID string) ([]byte, error) {
	data, err := c.client.Get(ctx, priceKeyPrefix+productID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// RecordLiveness stores the latest heartbeat counts
func (c *Cache) RecordLiveness(ctx context.Context, connectedUsers, activeProducts int) error {
	return c.client.HSet(ctx, livenessKey, map[string]interface{}{
		"connected_users": connectedUsers,
		"active_products": activeProducts,
		"updated_at":      time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

// Ping checks cache health
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
