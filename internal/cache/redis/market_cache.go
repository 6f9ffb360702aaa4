package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

const defaultMarketTTL = 5 * time.Minute

//go:embed scripts/market_snapshot.lua
var marketSnapshotLua string

// MarketCache implements domain.MarketCache. Each snapshot is a hash at
// "{ns}:market:{id}" with the JSON-encoded market in field "data", the
// lifecycle status in field "status" and the ledger version in "version".
type MarketCache struct {
	c        *Client
	ttl      time.Duration
	snapshot *redis.Script
}

// NewMarketCache creates a MarketCache. A non-positive ttl selects the
// default of five minutes.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl, snapshot: redis.NewScript(marketSnapshotLua)}
}

// Set stores a market snapshot unless a higher version is already cached.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.ID, err)
	}

	ttl := mc.ttl.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	err = mc.snapshot.Run(
		ctx,
		mc.c.rdb,
		[]string{mc.c.key("market", market.ID)},
		strconv.FormatUint(market.Version, 10),
		data,
		string(market.Status),
		ttl,
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.ID, err)
	}
	return nil
}

// Get returns a cached market or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.c.key("market", id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Invalidate drops a cached market.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.c.rdb.Del(ctx, mc.c.key("market", id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
