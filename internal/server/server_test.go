package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/wagerd/internal/cache/redis"
	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/feed"
	"github.com/alanyoungcy/wagerd/internal/server/handler"
	"github.com/alanyoungcy/wagerd/internal/server/middleware"
	"github.com/alanyoungcy/wagerd/internal/service"
	"github.com/alanyoungcy/wagerd/internal/settlement"
	"github.com/alanyoungcy/wagerd/internal/store/memory"
)

// Hardhat development keys.
const (
	operatorKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	aliceKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey      = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type memArchiver struct {
	mu   sync.Mutex
	recs map[string]domain.SettlementRecord
}

func (a *memArchiver) ArchiveSettlement(_ context.Context, rec domain.SettlementRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs[rec.Market.ID] = rec
	return "settlements/" + rec.Market.ID + ".json", nil
}

func (a *memArchiver) FetchSettlement(_ context.Context, id string) (domain.SettlementRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.recs[id]
	if !ok {
		return domain.SettlementRecord{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

func (a *memArchiver) ListSettlements(_ context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.recs))
	for id := range a.recs {
		ids = append(ids, id)
	}
	return ids, nil
}

type testServer struct {
	t        *testing.T
	clock    *clock
	redis    *rediscache.Client
	handler  http.Handler
	operator *crypto.Signer
	alice    *crypto.Signer
	bob      *crypto.Signer
}

type options struct {
	rateLimit int
	replay    bool
	checks    map[string]handler.Pinger
}

func newTestServer(t *testing.T, opts options) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	rc, err := rediscache.New(context.Background(), rediscache.ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	ts := &testServer{t: t, clock: &clock{now: t0}, redis: rc}
	ts.operator = mustSigner(t, operatorKey)
	ts.alice = mustSigner(t, aliceKey)
	ts.bob = mustSigner(t, bobKey)

	ledger := memory.New()
	prices := rediscache.NewPriceCache(rc)
	engine := settlement.NewEngine(ledger, feed.NewCacheReader(prices, 0), settlement.Config{
		Authorities: []string{ts.operator.Address().Hex()},
	}, logger).WithClock(settlement.ClockFunc(ts.clock.Now))

	archiver := &memArchiver{recs: map[string]domain.SettlementRecord{}}
	events := service.NewPublisher(rediscache.NewSignalBus(rc, 100), nil, logger)
	settle := service.NewSettlementService(engine, ledger, rediscache.NewMarketCache(rc, time.Minute), archiver, events, logger)
	markets := service.NewMarketService(ledger, ledger, rediscache.NewMarketCache(rc, time.Minute), archiver, engine.IsAuthority, logger)
	feeds := service.NewFeedService(prices, engine.IsAuthority, events, logger)

	deps := Deps{Limiter: rediscache.NewRateLimiter(rc)}
	if opts.replay {
		deps.Replay = rediscache.NewLockManager(rc)
	}
	ts.handler = NewHandler(Config{
		MaxClockSkew: time.Minute,
		RateLimit:    opts.rateLimit,
		RateWindow:   time.Minute,
	}, Handlers{
		Health:   handler.NewHealthHandler(opts.checks, logger),
		Status:   &handler.StatusHandler{Mode: "server", Ledger: "memory", StartedAt: time.Now()},
		Markets:  handler.NewMarketHandler(settle, markets, logger),
		Accounts: handler.NewAccountHandler(markets, logger),
		Feeds:    handler.NewFeedHandler(feeds, logger),
		Audit:    handler.NewAuditHandler(markets, logger),
	}, deps, nil, logger)
	return ts
}

func mustSigner(t *testing.T, key string) *crypto.Signer {
	t.Helper()
	s, err := crypto.NewSigner(key)
	require.NoError(t, err)
	return s
}

// do sends a request, signed by s when s is non-nil, and decodes the JSON
// response body.
func (ts *testServer) do(s *crypto.Signer, method, path string, body any) (int, map[string]any) {
	ts.t.Helper()
	req := ts.request(s, method, path, body)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (ts *testServer) request(s *crypto.Signer, method, path string, body any) *http.Request {
	ts.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(ts.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		now := time.Now().Unix()
		sig, err := s.SignRequest(method, req.URL.Path, now, raw)
		require.NoError(ts.t, err)
		req.Header.Set(middleware.HeaderAddress, s.Address().Hex())
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(now, 10))
		req.Header.Set(middleware.HeaderSignature, sig)
	}
	return req
}

func customMarket(id string) map[string]any {
	return map[string]any{
		"id":              id,
		"title":           "Will it rain tomorrow?",
		"type":            "custom",
		"open_time":       t0,
		"close_time":      t0.Add(time.Hour),
		"settle_time":     t0.Add(2 * time.Hour),
		"service_fee_bps": 500,
		"min_bet":         "0.1",
		"max_bet":         "10",
		"total_max_bet":   100_000_000_000,
		"outcomes":        []string{"YES", "NO"},
	}
}

func amountOf(t *testing.T, v any) string {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "not an amount: %v", v)
	return m["amount"].(string)
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, options{})
	op, alice, bob := ts.operator, ts.alice, ts.bob

	code, body := ts.do(op, http.MethodPost, "/api/markets", customMarket("rain"))
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "opened", body["status"])
	assert.Equal(t, "100", amountOf(t, body["total_max_bet"]))
	assert.Equal(t, op.Address().Hex(), body["authority"])

	for _, s := range []*crypto.Signer{alice, bob} {
		code, body = ts.do(op, http.MethodPost, "/api/accounts/"+s.Address().Hex()+"/credit", map[string]any{"amount": "10"})
		require.Equal(t, http.StatusOK, code, body)
	}

	ts.clock.Set(t0.Add(time.Minute))
	code, body = ts.do(alice, http.MethodPost, "/api/markets/rain/bets", map[string]any{"outcome": 0, "amount": "3"})
	require.Equal(t, http.StatusOK, code, body)
	code, body = ts.do(bob, http.MethodPost, "/api/markets/rain/bets", map[string]any{"outcome": 1, "amount": 1_000_000_000})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "4", amountOf(t, body["market"].(map[string]any)["total_pool"]))

	code, body = ts.do(nil, http.MethodGet, "/api/markets/rain/bets", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])

	// Betting closes with the window.
	ts.clock.Set(t0.Add(time.Hour))
	code, body = ts.do(alice, http.MethodPost, "/api/markets/rain/bets", map[string]any{"outcome": 0, "amount": "1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "market_not_open", body["code"])

	code, body = ts.do(op, http.MethodPost, "/api/markets/rain/close", map[string]any{})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "closed", body["status"])

	code, body = ts.do(op, http.MethodPost, "/api/markets/rain/settle", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "too_early", body["code"])

	ts.clock.Set(t0.Add(2 * time.Hour))
	code, body = ts.do(op, http.MethodPost, "/api/markets/rain/settle", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "settled", body["status"])

	code, body = ts.do(op, http.MethodPost, "/api/markets/rain/winner", map[string]any{"outcome": 0})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["status"])
	assert.EqualValues(t, 0, body["winning_outcome"])

	code, body = ts.do(op, http.MethodPost, "/api/markets/rain/winner", map[string]any{"outcome": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_set", body["code"])

	code, body = ts.do(alice, http.MethodPost, "/api/markets/rain/claim", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "3.8", amountOf(t, body["payout"]))
	assert.Equal(t, "0.2", amountOf(t, body["fee"]))

	code, body = ts.do(alice, http.MethodPost, "/api/markets/rain/claim", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_claimed", body["code"])

	code, body = ts.do(bob, http.MethodPost, "/api/markets/rain/claim", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "nothing_to_claim", body["code"])

	code, body = ts.do(nil, http.MethodGet, "/api/accounts/"+alice.Address().Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10.8", amountOf(t, body["balance"]))

	code, body = ts.do(nil, http.MethodGet, "/api/accounts/"+op.Address().Hex()+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.2", amountOf(t, body["balance"]))

	code, body = ts.do(nil, http.MethodGet, "/api/markets/rain/bets/"+alice.Address().Hex(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["claimed"])
	assert.Equal(t, "3.8", amountOf(t, body["payout"]))
	assert.Equal(t, crypto.BetAddress(alice.Address(), "rain").Hex(), body["bet_account"])

	code, body = ts.do(nil, http.MethodGet, "/api/markets/rain/record", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0.2", amountOf(t, body["fee"]))
	assert.Equal(t, "3.8", amountOf(t, body["distributable"]))
	assert.Equal(t, "3", amountOf(t, body["winning_stake"]))

	code, body = ts.do(nil, http.MethodGet, "/api/archive", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"rain"}, body["markets"])

	code, body = ts.do(nil, http.MethodGet, "/api/audit?limit=3", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["entries"], 3)
}

func TestMutationsRequireSignature(t *testing.T) {
	ts := newTestServer(t, options{})

	code, body := ts.do(nil, http.MethodPost, "/api/markets", customMarket("m1"))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["code"])

	// A signature over a different body does not verify.
	req := ts.request(ts.operator, http.MethodPost, "/api/markets", customMarket("m1"))
	tampered, err := json.Marshal(customMarket("m2"))
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Stale timestamps are rejected even with a valid signature.
	raw, err := json.Marshal(customMarket("m1"))
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour).Unix()
	sig, err := ts.operator.SignRequest(http.MethodPost, "/api/markets", old, raw)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewReader(raw))
	req.Header.Set(middleware.HeaderAddress, ts.operator.Address().Hex())
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(old, 10))
	req.Header.Set(middleware.HeaderSignature, sig)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Signed by a non-authority.
	code, body = ts.do(ts.alice, http.MethodPost, "/api/markets", customMarket("m1"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", body["code"])

	code, _ = ts.do(ts.alice, http.MethodPost, "/api/accounts/"+ts.alice.Address().Hex()+"/credit", map[string]any{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestReplayedSignatureRejected(t *testing.T) {
	ts := newTestServer(t, options{replay: true})
	req := ts.request(ts.operator, http.MethodPost, "/api/accounts/treasury/credit", map[string]any{"amount": "1"})
	again := req.Clone(context.Background())

	raw, err := json.Marshal(map[string]any{"amount": "1"})
	require.NoError(t, err)
	again.Body = io.NopCloser(bytes.NewReader(raw))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, again)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, options{})

	code, body := ts.do(nil, http.MethodGet, "/api/markets/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["code"])

	bad := customMarket("m1")
	bad["outcomes"] = []string{"ONLY"}
	code, body = ts.do(ts.operator, http.MethodPost, "/api/markets", bad)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_config", body["code"])

	code, body = ts.do(ts.operator, http.MethodPost, "/api/markets", map[string]any{"min_bet": "0.0000000001"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["code"])

	code, _ = ts.do(ts.operator, http.MethodPost, "/api/markets", customMarket("m1"))
	require.Equal(t, http.StatusCreated, code)
	code, body = ts.do(ts.operator, http.MethodPost, "/api/markets", customMarket("m1"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "duplicate_market", body["code"])

	ts.clock.Set(t0.Add(time.Minute))
	code, body = ts.do(ts.alice, http.MethodPost, "/api/markets/m1/bets", map[string]any{"outcome": 0, "amount": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_funds", body["code"])

	code, body = ts.do(ts.alice, http.MethodPost, "/api/markets/m1/bets", map[string]any{"outcome": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestFeedEndpoints(t *testing.T) {
	ts := newTestServer(t, options{})

	code, body := ts.do(nil, http.MethodGet, "/api/feeds/btcusdt", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(ts.alice, http.MethodPut, "/api/feeds/btcusdt", map[string]any{"price": "64000.5"})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = ts.do(ts.operator, http.MethodPut, "/api/feeds/BTCUSDT", map[string]any{"price": "64000.5"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "btcusdt", body["feed"])

	code, body = ts.do(nil, http.MethodGet, "/api/feeds/btcusdt", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "64000.5", body["price"])

	code, body = ts.do(ts.operator, http.MethodPut, "/api/feeds/btcusdt", map[string]any{"price": "-1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_config", body["code"])
}

func TestRateLimitPerCaller(t *testing.T) {
	ts := newTestServer(t, options{rateLimit: 2})

	for i := 0; i < 2; i++ {
		code, _ := ts.do(ts.alice, http.MethodGet, "/api/status", nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := ts.do(ts.alice, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["code"])

	// Other callers keep their own budget.
	code, _ = ts.do(ts.bob, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthReportsDependencies(t *testing.T) {
	ts := newTestServer(t, options{checks: map[string]handler.Pinger{
		"redis":    func(ctx context.Context) error { return nil },
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	}})

	code, body := ts.do(nil, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
	assert.Contains(t, deps["postgres"], "connection refused")

	ok := newTestServer(t, options{})
	code, body = ok.do(nil, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(Config{CORSOrigins: []string{"https://app.example"}}, Handlers{}, Deps{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderSignature)

	req = httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
