// Package feed supplies the settlement engine with external prices: a
// reader over the shared price cache and an ingester that keeps that cache
// current from the real-time data service.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// CacheReader implements domain.PriceFeed over a domain.PriceCache and
// rejects readings older than maxStaleness.
type CacheReader struct {
	cache        domain.PriceCache
	maxStaleness time.Duration
	now          func() time.Time
}

// NewCacheReader creates a CacheReader. A zero maxStaleness disables the
// staleness check.
func NewCacheReader(cache domain.PriceCache, maxStaleness time.Duration) *CacheReader {
	return &CacheReader{cache: cache, maxStaleness: maxStaleness, now: time.Now}
}

// Sample returns the latest cached price for feedID.
func (r *CacheReader) Sample(ctx context.Context, feedID string) (domain.PriceSample, error) {
	price, ts, err := r.cache.GetPrice(ctx, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceSample{}, fmt.Errorf("feed %s: %w", feedID, domain.ErrFeedUnavailable)
		}
		return domain.PriceSample{}, fmt.Errorf("feed %s: %w: %v", feedID, domain.ErrFeedUnavailable, err)
	}
	if r.maxStaleness > 0 && r.now().Sub(ts) > r.maxStaleness {
		return domain.PriceSample{}, fmt.Errorf("feed %s: last update %s: %w", feedID, ts.Format(time.RFC3339), domain.ErrStaleFeed)
	}
	return domain.PriceSample{FeedID: feedID, Price: price, PublishedAt: ts}, nil
}

var _ domain.PriceFeed = (*CacheReader)(nil)
