package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

func TestPlaceBetLimits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	args := hiloArgs("m")
	args.MaxBet = units("1")
	args.TotalMaxBet = units("1.5")
	h.create(t, args)
	h.fund(t, alice, "5")
	h.fund(t, bob, "5")
	h.clock.Set(t0.Add(time.Minute))

	_, err := h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1")-1)
	assert.ErrorIs(t, err, domain.ErrBetTooSmall)

	_, err = h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1"))
	require.NoError(t, err)

	_, err = h.engine.PlaceBet(ctx, alice, "m", 2, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = h.engine.PlaceBet(ctx, alice, "m", -1, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	// Cumulative stake: 0.1 + 0.9 == max is fine, one more base unit is not.
	_, err = h.engine.PlaceBet(ctx, alice, "m", 1, units("0.9"))
	require.NoError(t, err)
	_, err = h.engine.PlaceBet(ctx, alice, "m", 1, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrBetLimitExceeded)

	// Pool cap: 1.0 + 0.5 == cap accepted, 0.1 more rejected.
	_, err = h.engine.PlaceBet(ctx, bob, "m", 0, units("0.5"))
	require.NoError(t, err)
	_, err = h.engine.PlaceBet(ctx, bob, "m", 0, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrPoolCapExceeded)

	m, err := h.ledger.GetMarket(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, units("1.5"), m.TotalPool)
	assert.Equal(t, []uint64{units("0.6"), units("0.9")}, m.AmountsPerOutcome)

	b, err := h.ledger.GetBet(ctx, "m", alice)
	require.NoError(t, err)
	assert.Equal(t, units("1"), b.TotalBetAmount)
	assert.Equal(t, []uint64{units("0.1"), units("0.9")}, b.AmountsPerOutcome)
	assert.Equal(t, units("4"), h.balance(t, alice))
}

func TestPlaceBetWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	args := hiloArgs("m")
	args.OpenTime = t0.Add(10 * time.Minute)
	h.create(t, args)
	h.fund(t, alice, "1")

	_, err := h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	h.clock.Set(args.OpenTime)
	_, err = h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1"))
	require.NoError(t, err)

	h.clock.Set(args.CloseTime)
	_, err = h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestPlaceBetAfterCloseLeavesBalances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.create(t, customArgs("c", "A", "B"))
	h.fund(t, alice, "1")
	h.clock.Set(t0.Add(time.Hour))
	_, err := h.engine.CloseMarket(ctx, authority, "c", nil)
	require.NoError(t, err)

	_, err = h.engine.PlaceBet(ctx, alice, "c", 0, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
	assert.Equal(t, units("1"), h.balance(t, alice))
	_, err = h.ledger.GetBet(ctx, "c", alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.create(t, hiloArgs("m"))
	h.fund(t, alice, "0.05")
	h.clock.Set(t0.Add(time.Minute))

	_, err := h.engine.PlaceBet(ctx, alice, "m", 0, units("0.1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	m, err := h.ledger.GetMarket(ctx, "m")
	require.NoError(t, err)
	assert.Zero(t, m.TotalPool)
}

func TestPlaceBetUnknownMarket(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.PlaceBet(context.Background(), alice, "ghost", 0, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func bettorAddr(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func TestConcurrentBetsKeepPoolConsistent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	args := hiloArgs("busy")
	args.TotalMaxBet = units("5")
	h.create(t, args)
	h.clock.Set(t0.Add(time.Minute))

	const bettors = 40
	for i := 0; i < bettors; i++ {
		h.fund(t, bettorAddr(i), "1")
	}

	var wg sync.WaitGroup
	errs := make([]error, bettors)
	for i := 0; i < bettors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.PlaceBet(ctx, bettorAddr(i), "busy", i%2, units("0.2"))
		}(i)
	}
	wg.Wait()

	// 5 / 0.2 = 25 bets fit under the cap.
	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrPoolCapExceeded)
	}
	assert.Equal(t, 25, accepted)

	m, err := h.ledger.GetMarket(ctx, "busy")
	require.NoError(t, err)
	var sum uint64
	for _, v := range m.AmountsPerOutcome {
		sum += v
	}
	assert.Equal(t, m.TotalPool, sum)
	assert.Equal(t, units("5"), m.TotalPool)
	assert.Equal(t, m.TotalPool, h.balance(t, CustodyAccount("busy")))

	bets, err := h.ledger.ListBets(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, bets, 25)
	for _, b := range bets {
		var s uint64
		for _, v := range b.AmountsPerOutcome {
			s += v
		}
		assert.Equal(t, b.TotalBetAmount, s)
	}
}

func TestConcurrentClaimsConservePool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	args := hiloArgs("split")
	args.ServiceFeeBps = 333
	h.create(t, args)
	h.clock.Set(t0.Add(time.Minute))

	const bettors = 21
	for i := 0; i < bettors; i++ {
		h.fund(t, bettorAddr(i), "1")
		// Odd amounts so truncation leaves dust.
		stake := units("0.1") + uint64(i*7_777_777)
		_, err := h.engine.PlaceBet(ctx, bettorAddr(i), "split", i%3%2, stake)
		require.NoError(t, err)
	}
	m, err := h.ledger.GetMarket(ctx, "split")
	require.NoError(t, err)
	pool := m.TotalPool

	h.confirmHilo(t, "split", 0)

	var wg sync.WaitGroup
	results := make([]ClaimResult, bettors)
	errs := make([]error, bettors)
	for i := 0; i < bettors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.engine.ClaimReward(ctx, bettorAddr(i), "split")
		}(i)
	}
	wg.Wait()

	var paid, fees uint64
	winners := 0
	for i := 0; i < bettors; i++ {
		if i%3%2 == 0 {
			require.NoError(t, errs[i])
			paid += results[i].Payout
			fees += results[i].Fee
			winners++
		} else {
			assert.ErrorIs(t, errs[i], domain.ErrNothingToClaim)
		}
	}

	assert.LessOrEqual(t, paid+fees, pool)
	assert.Less(t, pool-(paid+fees), uint64(2*winners))
	assert.Equal(t, pool-(paid+fees), h.balance(t, CustodyAccount("split")))
	assert.Equal(t, fees, h.balance(t, treasury))
}
