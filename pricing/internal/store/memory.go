package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SWLivingstone/margin-calculator/pricing/internal/logic"
)

// FloorKey identifies one solved floor price. Version is the product row
// version the price was solved from, so a price solved from replaced costs
// is never served for the new ones.
type FloorKey struct {
	Sku          string
	Version      int64
	Level        logic.MarginLevel
	TargetMargin float64
}

func (k FloorKey) String() string {
	return "floor:" + k.Sku +
		":" + strconv.FormatInt(k.Version, 10) +
		":" + k.Level.String() +
		":" + strconv.FormatFloat(k.TargetMargin, 'f', -1, 64)
}

// indexKey names the set holding every cached key of a sku.
func indexKey(sku string) string {
	return "floor-index:" + sku
}

// PriceCache keeps solved floor prices in redis so repeated lookups skip the search.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceCache creates a redis client for the floor price cache.
func NewPriceCache(addr, password string, db int, ttl time.Duration) *PriceCache {
	return &PriceCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Ping verifies connectivity and credentials.
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetFloorPrice stores price under key with the configured ttl and records the
// key in the sku's index.
func (c *PriceCache) SetFloorPrice(ctx context.Context, key FloorKey, price float64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key.String(), strconv.FormatFloat(price, 'g', -1, 64), c.ttl)
		pipe.SAdd(ctx, indexKey(key.Sku), key.String())
		pipe.Expire(ctx, indexKey(key.Sku), c.ttl)
		return nil
	})
	return err
}

// GetFloorPrice returns ok=false on a cache miss.
func (c *PriceCache) GetFloorPrice(ctx context.Context, key FloorKey) (float64, bool, error) {
	val, err := c.client.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt floor price for %s: %w", key, err)
	}
	return price, true, nil
}

// InvalidateSku drops every cached floor price of sku regardless of level or target.
func (c *PriceCache) InvalidateSku(ctx context.Context, sku string) error {
	index := indexKey(sku)

	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	return c.client.Del(ctx, append(keys, index)...).Err()
}

// Close releases the redis connection pool.
func (c *PriceCache) Close() error {
	return c.client.Close()
}
