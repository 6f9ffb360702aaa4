package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/store/memory"
)

const (
	authority = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	treasury  = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
	alice     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob       = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	mallory   = "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func (f *fakeFeed) Set(id, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[id] = decimal.RequireFromString(price)
}

func (f *fakeFeed) Sample(_ context.Context, id string) (domain.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.PriceSample{}, f.err
	}
	p, ok := f.prices[id]
	if !ok {
		return domain.PriceSample{}, domain.ErrFeedUnavailable
	}
	return domain.PriceSample{FeedID: id, Price: p, PublishedAt: t0}, nil
}

type harness struct {
	engine *Engine
	ledger *memory.Ledger
	clock  *fakeClock
	feed   *fakeFeed
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger: memory.New(),
		clock:  &fakeClock{now: t0},
		feed:   &fakeFeed{prices: map[string]decimal.Decimal{}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = NewEngine(h.ledger, h.feed, Config{
		Authorities: []string{authority},
		FeeAccount:  treasury,
	}, logger).WithClock(h.clock)
	return h
}

func units(s string) uint64 {
	v, err := amount.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// hiloArgs mirrors the reference scenario: YES/NO, min 0.1, max 10, cap
// 100, 500 bps.
func hiloArgs(id string) domain.CreateMarketArgs {
	return domain.CreateMarketArgs{
		ID:            id,
		Title:         "BTC higher in an hour?",
		Type:          domain.MarketTypeHilo,
		OpenTime:      t0,
		CloseTime:     t0.Add(time.Hour),
		SettleTime:    t0.Add(2 * time.Hour),
		ServiceFeeBps: 500,
		MinBet:        units("0.1"),
		MaxBet:        units("10"),
		TotalMaxBet:   units("100"),
		Outcomes:      []string{"YES", "NO"},
	}
}

func customArgs(id string, outcomes ...string) domain.CreateMarketArgs {
	a := hiloArgs(id)
	a.Type = domain.MarketTypeCustom
	a.Outcomes = outcomes
	return a
}

func (h *harness) fund(t *testing.T, acct, amt string) {
	t.Helper()
	_, err := h.ledger.Credit(context.Background(), acct, units(amt))
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, acct string) uint64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), acct)
	require.NoError(t, err)
	return b
}

func (h *harness) create(t *testing.T, args domain.CreateMarketArgs) domain.Market {
	t.Helper()
	m, err := h.engine.CreateMarket(context.Background(), authority, args)
	require.NoError(t, err)
	return m
}

// confirmHilo drives a Hilo market from Opened to Confirmed with outcome
// winner.
func (h *harness) confirmHilo(t *testing.T, id string, winner int) {
	t.Helper()
	ctx := context.Background()
	h.feed.Set("BTC", "100")
	h.clock.Set(t0.Add(time.Hour))
	_, err := h.engine.CloseMarket(ctx, authority, id, []string{"BTC"})
	require.NoError(t, err)
	h.feed.Set("BTC", "110")
	h.clock.Set(t0.Add(2 * time.Hour))
	_, err = h.engine.SettleMarket(ctx, authority, id, []string{"BTC"}, nil)
	require.NoError(t, err)
	_, err = h.engine.SetWinningOutcome(ctx, authority, id, winner)
	require.NoError(t, err)
}
