package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPriceCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	pc := NewPriceCache(c)

	_, _, err := pc.GetPrice(ctx, "btcusdt")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "btcusdt", decimal.RequireFromString("64250.125"), ts))

	price, got, err := pc.GetPrice(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "64250.125", price.String())
	assert.True(t, got.Equal(ts))
	assert.True(t, mr.Exists("wagerd:feed:btcusdt"))
}

func TestPriceCacheIgnoresOlderReading(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	pc := NewPriceCache(c)

	newer := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "ethusdt", decimal.NewFromInt(3100), newer))
	require.NoError(t, pc.SetPrice(ctx, "ethusdt", decimal.NewFromInt(2900), newer.Add(-time.Second)))

	price, ts, err := pc.GetPrice(ctx, "ethusdt")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(3100)))
	assert.True(t, ts.Equal(newer))
}

func TestMarketCacheSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	mc := NewMarketCache(c, time.Minute)

	closed := decimal.RequireFromString("101.5")
	winner := 1
	m := domain.Market{
		ID:                "m1",
		Type:              domain.MarketTypeHilo,
		Outcomes:          []string{"UP", "DOWN"},
		AmountsPerOutcome: []uint64{10, 20},
		TotalPool:         30,
		Status:            domain.MarketStatusSettled,
		FeedA:             "btcusdt",
		FinalPriceAClosed: &closed,
		WinningOutcome:    &winner,
		ServiceFeeBps:     500,
	}
	require.NoError(t, mc.Set(ctx, m))
	assert.Equal(t, time.Minute, mr.TTL("wagerd:market:m1"))

	got, err := mc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Status, got.Status)
	assert.Equal(t, m.AmountsPerOutcome, got.AmountsPerOutcome)
	require.NotNil(t, got.FinalPriceAClosed)
	assert.True(t, got.FinalPriceAClosed.Equal(closed))
	require.NotNil(t, got.WinningOutcome)
	assert.Equal(t, 1, *got.WinningOutcome)

	require.NoError(t, mc.Invalidate(ctx, "m1"))
	_, err = mc.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketCacheKeepsNewerVersion(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	mc := NewMarketCache(c, time.Minute)

	older := domain.Market{ID: "m2", Status: domain.MarketStatusOpened, AmountsPerOutcome: []uint64{0, 0}, Version: 1}
	newer := older.Clone()
	newer.AmountsPerOutcome[0], newer.TotalPool, newer.Version = 100, 100, 2

	require.NoError(t, mc.Set(ctx, newer))
	require.NoError(t, mc.Set(ctx, older))

	got, err := mc.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, uint64(100), got.TotalPool)
	assert.Equal(t, "2", mr.HGet("wagerd:market:m2", "version"))

	closed := newer.Clone()
	closed.Status, closed.Version = domain.MarketStatusClosed, 3
	require.NoError(t, mc.Set(ctx, closed))
	got, err = mc.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, got.Status)
	assert.Equal(t, time.Minute, mr.TTL("wagerd:market:m2"))
}

func TestLockManagerExclusive(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "scheduler", 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "scheduler", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "scheduler", 10*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestLockManagerUnlockDoesNotStealSuccessor(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "leader", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "leader", 10*time.Second)
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("wagerd:lock:leader"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "0xabc", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "0xabc", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "0xdef", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "0xabc", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusPublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := sb.Subscribe(ctx, "markets")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, "markets", []byte(`{"type":"market_closed"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"market_closed"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, 0)

	msgs, err := sb.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, "events", []byte("a")))
	require.NoError(t, sb.StreamAppend(ctx, "events", []byte("b")))

	msgs, err = sb.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)
	assert.Equal(t, []byte("b"), msgs[1].Payload)

	msgs, err = sb.StreamRead(ctx, "events", "", 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
