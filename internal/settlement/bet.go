package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// PlaceResult is the state after an accepted stake.
type PlaceResult struct {
	Market domain.Market
	Bet    domain.Bet
}

// PlaceBet stakes amount on outcome for bettor, moving the funds into the
// market's custody account. The stake merges into any existing bet.
func (e *Engine) PlaceBet(ctx context.Context, bettor, marketID string, outcome int, amt uint64) (PlaceResult, error) {
	var res PlaceResult
	err := e.ledger.InTx(ctx, marketScope(marketID), func(ctx context.Context, tx domain.LedgerTx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		now := e.clock.Now().UTC()
		if m.Status != domain.MarketStatusOpened {
			return fmt.Errorf("%w: market is %s", domain.ErrMarketNotOpen, m.Status)
		}
		if now.Before(m.OpenTime) || !now.Before(m.CloseTime) {
			return fmt.Errorf("%w: outside betting window", domain.ErrMarketNotOpen)
		}
		if outcome < 0 || outcome >= len(m.Outcomes) {
			return fmt.Errorf("%w: %d of %d", domain.ErrInvalidOutcome, outcome, len(m.Outcomes))
		}
		if amt == 0 {
			return fmt.Errorf("%w: amount must be positive", domain.ErrBetTooSmall)
		}
		if amt < m.MinBet {
			return fmt.Errorf("%w: %d < %d", domain.ErrBetTooSmall, amt, m.MinBet)
		}

		b, err := tx.LockBet(ctx, marketID, bettor)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			b = domain.NewBet(marketID, bettor, len(m.Outcomes), now)
		case err != nil:
			return err
		}

		betTotal, err := amount.Add(b.TotalBetAmount, amt)
		if err != nil || betTotal > m.MaxBet {
			return fmt.Errorf("%w: %d + %d > %d", domain.ErrBetLimitExceeded, b.TotalBetAmount, amt, m.MaxBet)
		}
		pool, err := amount.Add(m.TotalPool, amt)
		if err != nil || pool > m.TotalMaxBet {
			return fmt.Errorf("%w: %d + %d > %d", domain.ErrPoolCapExceeded, m.TotalPool, amt, m.TotalMaxBet)
		}

		if err := tx.Transfer(ctx, bettor, CustodyAccount(marketID), amt); err != nil {
			return err
		}

		m.AmountsPerOutcome[outcome] += amt
		m.TotalPool = pool
		m.UpdatedAt = now
		m.Version++
		b.AmountsPerOutcome[outcome] += amt
		b.TotalBetAmount = betTotal
		b.UpdatedAt = now

		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.UpsertBet(ctx, b); err != nil {
			return err
		}
		if err := tx.Audit(ctx, string(domain.EventBetPlaced), map[string]any{
			"market_id": marketID,
			"bettor":    bettor,
			"outcome":   outcome,
			"amount":    amt,
		}); err != nil {
			return err
		}
		res = PlaceResult{Market: m, Bet: b}
		return nil
	})
	if err != nil {
		return PlaceResult{}, fmt.Errorf("settlement: place bet on %q: %w", marketID, err)
	}

	e.logger.DebugContext(ctx, "bet placed",
		slog.String("market_id", marketID),
		slog.String("bettor", bettor),
		slog.Int("outcome", outcome),
		slog.Uint64("amount", amt),
	)
	return res, nil
}

// ClaimResult describes a completed claim.
type ClaimResult struct {
	Market domain.Market
	Bet    domain.Bet
	Payout uint64
	Fee    uint64
}

// ClaimReward pays bettor's pari-mutuel share of a confirmed market and
// moves the proportional service fee to the fee account. A bettor with no
// stake on the winning outcome fails with ErrNothingToClaim and the bet is
// left unclaimed.
func (e *Engine) ClaimReward(ctx context.Context, bettor, marketID string) (ClaimResult, error) {
	var res ClaimResult
	err := e.ledger.InTx(ctx, betScope(marketID, bettor), func(ctx context.Context, tx domain.LedgerTx) error {
		m, err := tx.GetMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Status != domain.MarketStatusConfirmed || m.WinningOutcome == nil {
			return fmt.Errorf("%w: market is %s", domain.ErrMarketNotConfirmed, m.Status)
		}

		b, err := tx.LockBet(ctx, marketID, bettor)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoBetFound
		}
		if err != nil {
			return err
		}
		if b.Claimed {
			return domain.ErrAlreadyClaimed
		}

		stake := b.AmountsPerOutcome[*m.WinningOutcome]
		if stake == 0 {
			return domain.ErrNothingToClaim
		}
		share, err := amount.Claim(m.TotalPool, m.ServiceFeeBps, stake, m.WinningStake())
		if err != nil {
			return err
		}

		custody := CustodyAccount(marketID)
		if share.Payout > 0 {
			if err := tx.Transfer(ctx, custody, bettor, share.Payout); err != nil {
				return err
			}
		}
		if share.Fee > 0 {
			if err := tx.Transfer(ctx, custody, e.feeAccountFor(m), share.Fee); err != nil {
				return err
			}
		}

		now := e.clock.Now().UTC()
		b.Claimed = true
		b.Payout = share.Payout
		b.FeePaid = share.Fee
		b.ClaimedAt = &now
		b.UpdatedAt = now
		if err := tx.UpsertBet(ctx, b); err != nil {
			return err
		}
		if err := tx.Audit(ctx, string(domain.EventRewardClaimed), map[string]any{
			"market_id": marketID,
			"bettor":    bettor,
			"payout":    share.Payout,
			"fee":       share.Fee,
		}); err != nil {
			return err
		}
		res = ClaimResult{Market: m, Bet: b, Payout: share.Payout, Fee: share.Fee}
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("settlement: claim on %q: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "reward claimed",
		slog.String("market_id", marketID),
		slog.String("bettor", bettor),
		slog.Uint64("payout", res.Payout),
		slog.Uint64("fee", res.Fee),
	)
	return res, nil
}

func (e *Engine) feeAccountFor(m domain.Market) string {
	if e.feeAccount != "" {
		return e.feeAccount
	}
	return m.Authority
}
