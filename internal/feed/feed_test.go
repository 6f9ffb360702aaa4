package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	ts     map[string]time.Time
	err    error
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: map[string]decimal.Decimal{}, ts: map[string]time.Time{}}
}

func (c *memPriceCache) SetPrice(_ context.Context, id string, p decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[id] = p
	c.ts[id] = ts
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, id string) (decimal.Decimal, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return decimal.Zero, time.Time{}, c.err
	}
	p, ok := c.prices[id]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, c.ts[id], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheReaderSample(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := newMemPriceCache()
	r := NewCacheReader(cache, 30*time.Second)
	r.now = func() time.Time { return now }

	_, err := r.Sample(ctx, "btcusdt")
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)

	require.NoError(t, cache.SetPrice(ctx, "btcusdt", decimal.NewFromInt(64000), now.Add(-10*time.Second)))
	s, err := r.Sample(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "btcusdt", s.FeedID)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(64000)))

	now = now.Add(time.Minute)
	_, err = r.Sample(ctx, "btcusdt")
	assert.ErrorIs(t, err, domain.ErrStaleFeed)
}

func TestCacheReaderBackendError(t *testing.T) {
	cache := newMemPriceCache()
	cache.err = errors.New("connection refused")
	r := NewCacheReader(cache, 0)

	_, err := r.Sample(context.Background(), "ethusdt")
	assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestRTDSFeedIngestsUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan rtdsCommand, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd rtdsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd

		msgs := []string{
			`{"topic":"activity","type":"trades","payload":{}}`,
			`{"topic":"crypto_prices","type":"update","timestamp":1772366400000,"payload":{"symbol":"BTCUSDT","timestamp":1772366399000,"value":64250.5}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := newMemPriceCache()
	got := make(chan domain.PriceSample, 1)
	f := NewRTDSFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{" BTCUSDT ", "ethusdt"}, cache,
		func(_ context.Context, s domain.PriceSample) { got <- s }, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		assert.Equal(t, "subscribe", cmd.Action)
		require.Len(t, cmd.Subscriptions, 1)
		assert.Equal(t, "crypto_prices", cmd.Subscriptions[0].Topic)
		assert.Equal(t, "btcusdt,ethusdt", cmd.Subscriptions[0].Filters)
	case <-ctx.Done():
		t.Fatal("timed out waiting for subscribe")
	}

	select {
	case s := <-got:
		assert.Equal(t, "btcusdt", s.FeedID)
		assert.True(t, s.Price.Equal(decimal.RequireFromString("64250.5")))
		assert.Equal(t, int64(1772366399000), s.PublishedAt.UnixMilli())
	case <-ctx.Done():
		t.Fatal("timed out waiting for price")
	}

	p, _, err := cache.GetPrice(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("64250.5")))

	f.Close()
	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRTDSFeedRejectsBadPrices(t *testing.T) {
	cache := newMemPriceCache()
	f := NewRTDSFeed("ws://unused", nil, cache, nil, discardLogger())
	ctx := context.Background()

	err := f.handleMessage(ctx, []byte(`{"topic":"crypto_prices","type":"update","payload":{"symbol":"solusdt","value":0}}`))
	assert.Error(t, err)
	err = f.handleMessage(ctx, []byte(`{"topic":"crypto_prices","type":"update","payload":{"value":12}}`))
	assert.Error(t, err)
	_, _, err = cache.GetPrice(ctx, "solusdt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
