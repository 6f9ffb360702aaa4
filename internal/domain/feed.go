package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one reading of an external price feed.
type PriceSample struct {
	FeedID      string
	Price       decimal.Decimal
	PublishedAt time.Time
}

// PriceFeed samples external prices. Implementations return
// ErrFeedUnavailable when the feed has never reported and ErrStaleFeed when
// the latest reading is too old to use.
type PriceFeed interface {
	Sample(ctx context.Context, feedID string) (PriceSample, error)
}
