package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/config"
	"github.com/alanyoungcy/wagerd/internal/crypto"
)

const (
	operatorKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	operatorAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	adminAddr    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Authority.Addresses = []string{strings.ToLower(adminAddr)}
	cfg.Authority.PrivateKey = operatorKey
	return &cfg
}

func TestWireMemoryLedger(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, testConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.Equal(t, "memory", deps.LedgerBackend)
	assert.Equal(t, []string{adminAddr, operatorAddr}, deps.Authorities)
	assert.True(t, deps.Engine.IsAuthority(adminAddr))
	assert.True(t, deps.Engine.IsAuthority(operatorAddr))
	require.NotNil(t, deps.Signer)
	assert.Equal(t, operatorAddr, deps.Signer.Address().Hex())

	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)

	bal, err := deps.Markets.Credit(ctx, adminAddr, operatorAddr, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal)

	// Prices need the shared cache.
	_, err = deps.Feeds.GetPrice(ctx, "btcusdt")
	require.Error(t, err)
}

func TestWireWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	require.NotNil(t, deps.SignalBus)
	require.NotNil(t, deps.LockManager)
	require.Contains(t, deps.Health, "redis")
	require.NoError(t, deps.Health["redis"](ctx))

	price := decimal.RequireFromString("64000.5")
	_, err = deps.Feeds.SetPrice(ctx, operatorAddr, "BTCUSDT", price, time.Time{})
	require.NoError(t, err)

	got, err := deps.Feeds.GetPrice(ctx, "btcusdt")
	require.NoError(t, err)
	assert.True(t, price.Equal(got.Price))
}

func TestWireRejectsBadInputs(t *testing.T) {
	t.Run("operator key", func(t *testing.T) {
		cfg := testConfig()
		cfg.Authority.PrivateKey = "not-a-key"
		_, _, err := Wire(context.Background(), cfg, quietLogger())
		assert.ErrorContains(t, err, "operator key")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig()
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
		cfg.Redis.MaxRetries = -1
		_, _, err = Wire(context.Background(), cfg, quietLogger())
		assert.ErrorContains(t, err, "redis")
	})
}

func TestAuthoritySetDeduplicates(t *testing.T) {
	signer, err := crypto.NewSigner(operatorKey)
	require.NoError(t, err)

	got, err := authoritySet([]string{adminAddr, strings.ToLower(adminAddr), operatorAddr}, signer)
	require.NoError(t, err)
	assert.Equal(t, []string{adminAddr, operatorAddr}, got)

	_, err = authoritySet([]string{"bob"}, nil)
	assert.Error(t, err)
}
