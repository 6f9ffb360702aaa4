package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per feed at
// "{ns}:feed:{id}" holding the decimal "price" and the publish time "ts" in
// Unix nanoseconds.
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetPrice stores the latest price for a feed. Older readings never replace
// newer ones.
func (pc *PriceCache) SetPrice(ctx context.Context, feedID string, price decimal.Decimal, ts time.Time) error {
	key := pc.c.key("feed", feedID)
	err := pc.c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "ts").Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil && cur > ts.UnixNano() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]any{
				"price": price.String(),
				"ts":    strconv.FormatInt(ts.UnixNano(), 10),
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", feedID, err)
	}
	return nil
}

// GetPrice returns the latest price and its publish time. It returns
// domain.ErrNotFound when the feed has never reported.
func (pc *PriceCache) GetPrice(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("feed", feedID)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	priceStr, okP := vals["price"]
	tsStr, okT := vals["ts"]
	if !okP || !okT {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", feedID, domain.ErrNotFound)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", feedID, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", feedID, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
