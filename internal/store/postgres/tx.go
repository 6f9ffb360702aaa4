package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// pgTx implements domain.LedgerTx over a single pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertMarket(ctx context.Context, m domain.Market) error {
	args, err := marketArgs(m)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}
	const query = `
		INSERT INTO markets (
			id, title, description, image_link, market_type, feed_a, feed_b,
			open_time, close_time, settle_time,
			service_fee_bps, min_bet, max_bet, total_max_bet,
			outcomes, amounts_per_outcome, total_pool, status,
			final_price_a_closed, final_price_b_closed,
			final_price_a_settled, final_price_b_settled,
			winning_outcome, authority,
			created_at, updated_at, closed_at, settled_at, confirmed_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19::numeric, $20::numeric,
			$21::numeric, $22::numeric,
			$23, $24,
			$25, $26, $27, $28, $29, $30
		)`
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, mapPgError(err))
	}
	return nil
}

func (t *pgTx) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id, false)
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, t.tx, id, true)
}

// UpdateMarket rewrites the mutable columns. The id, type, outcomes, and
// authority are fixed at creation.
func (t *pgTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	amounts, err := toInt64s(m.AmountsPerOutcome)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	pool, err := toInt64(m.TotalPool)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	version, err := toInt64(m.Version)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	var winner *int16
	if m.WinningOutcome != nil {
		w := int16(*m.WinningOutcome)
		winner = &w
	}
	const query = `
		UPDATE markets SET
			feed_a = $2, feed_b = $3,
			amounts_per_outcome = $4, total_pool = $5, status = $6,
			final_price_a_closed = $7::numeric, final_price_b_closed = $8::numeric,
			final_price_a_settled = $9::numeric, final_price_b_settled = $10::numeric,
			winning_outcome = $11,
			updated_at = $12, closed_at = $13, settled_at = $14, confirmed_at = $15,
			version = $16
		WHERE id = $1 AND version = $16 - 1`
	tag, err := t.tx.Exec(ctx, query,
		m.ID, m.FeedA, m.FeedB,
		amounts, pool, string(m.Status),
		decimalArg(m.FinalPriceAClosed), decimalArg(m.FinalPriceBClosed),
		decimalArg(m.FinalPriceASettled), decimalArg(m.FinalPriceBSettled),
		winner,
		m.UpdatedAt, m.ClosedAt, m.SettledAt, m.ConfirmedAt,
		version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockBet(ctx context.Context, marketID, bettor string) (domain.Bet, error) {
	return getBet(ctx, t.tx, marketID, bettor, true)
}

func (t *pgTx) UpsertBet(ctx context.Context, b domain.Bet) error {
	amounts, err := toInt64s(b.AmountsPerOutcome)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s/%s: %w", b.MarketID, b.Bettor, err)
	}
	total, err := toInt64(b.TotalBetAmount)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s/%s: %w", b.MarketID, b.Bettor, err)
	}
	const query = `
		INSERT INTO bets (
			market_id, bettor, amounts_per_outcome, total_bet_amount,
			claimed, payout, fee_paid, created_at, updated_at, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			amounts_per_outcome = EXCLUDED.amounts_per_outcome,
			total_bet_amount    = EXCLUDED.total_bet_amount,
			claimed             = EXCLUDED.claimed,
			payout              = EXCLUDED.payout,
			fee_paid            = EXCLUDED.fee_paid,
			updated_at          = EXCLUDED.updated_at,
			claimed_at          = EXCLUDED.claimed_at`
	_, err = t.tx.Exec(ctx, query,
		b.MarketID, b.Bettor, amounts, total,
		b.Claimed, int64(b.Payout), int64(b.FeePaid), b.CreatedAt, b.UpdatedAt, b.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s/%s: %w", b.MarketID, b.Bettor, mapPgError(err))
	}
	return nil
}

// Transfer debits from only when its balance covers amount; the conditional
// UPDATE holds the row lock until commit.
func (t *pgTx) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	amt, err := toInt64(amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer %s -> %s: %w", from, to, err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE balances SET amount = amount - $2, updated_at = NOW()
		WHERE account = $1 AND amount >= $2`, from, amt)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer %d from %s: %w", amount, from, domain.ErrInsufficientFunds)
	}
	if _, err := credit(ctx, t.tx, to, amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, err)
	}
	return nil
}

func (t *pgTx) Audit(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

var _ domain.LedgerTx = (*pgTx)(nil)
