package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// FeedService records operator-supplied prices and relays ingested ones.
type FeedService struct {
	cache  domain.PriceCache
	auth   func(string) bool
	events *Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewFeedService creates a FeedService. isAuthority gates SetPrice.
func NewFeedService(cache domain.PriceCache, isAuthority func(string) bool, events *Publisher, logger *slog.Logger) *FeedService {
	return &FeedService{
		cache:  cache,
		auth:   isAuthority,
		events: events,
		logger: logger.With(slog.String("component", "feed_service")),
		now:    time.Now,
	}
}

// FeedID normalizes a feed identifier.
func FeedID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SetPrice stores an operator-supplied price for feedID. A zero at means
// now.
func (s *FeedService) SetPrice(ctx context.Context, caller, feedID string, price decimal.Decimal, at time.Time) (domain.PriceSample, error) {
	if s.auth == nil || !s.auth(caller) {
		return domain.PriceSample{}, fmt.Errorf("set price %s: %w", feedID, domain.ErrUnauthorized)
	}
	if s.cache == nil {
		return domain.PriceSample{}, fmt.Errorf("set price %s: %w", feedID, domain.ErrUnavailable)
	}
	id := FeedID(feedID)
	if id == "" || !price.IsPositive() {
		return domain.PriceSample{}, fmt.Errorf("set price %q: %w: price must be positive", feedID, domain.ErrInvalidConfig)
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	if err := s.cache.SetPrice(ctx, id, price, at); err != nil {
		return domain.PriceSample{}, fmt.Errorf("set price %s: %w", id, err)
	}
	sample := domain.PriceSample{FeedID: id, Price: price, PublishedAt: at}

	s.logger.InfoContext(ctx, "feed price set",
		slog.String("feed", id),
		slog.String("price", price.String()),
		slog.String("caller", caller),
	)
	s.events.Publish(ctx, domain.Event{
		Type:   domain.EventFeedUpdated,
		Actor:  caller,
		Detail: map[string]any{"feed": id, "price": price.String(), "published_at": at.Format(time.RFC3339Nano)},
	})
	return sample, nil
}

// GetPrice returns the latest cached price without a staleness check.
func (s *FeedService) GetPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	if s.cache == nil {
		return domain.PriceSample{}, fmt.Errorf("get price %s: %w", feedID, domain.ErrUnavailable)
	}
	id := FeedID(feedID)
	price, at, err := s.cache.GetPrice(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceSample{}, fmt.Errorf("feed %s: %w", id, domain.ErrNotFound)
		}
		return domain.PriceSample{}, err
	}
	return domain.PriceSample{FeedID: id, Price: price, PublishedAt: at}, nil
}

type feedUpdate struct {
	Feed        string    `json:"feed"`
	Price       string    `json:"price"`
	PublishedAt time.Time `json:"published_at"`
}

// HandleSample relays an ingested price on the feeds channel. It matches
// feed.PriceHandler.
func (s *FeedService) HandleSample(ctx context.Context, sample domain.PriceSample) {
	data, err := json.Marshal(feedUpdate{Feed: sample.FeedID, Price: sample.Price.String(), PublishedAt: sample.PublishedAt})
	if err != nil {
		return
	}
	s.events.PublishRaw(ctx, FeedsChannel, data)
}
