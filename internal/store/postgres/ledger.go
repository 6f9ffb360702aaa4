package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const marketColumns = `
	id, title, description, image_link, market_type, feed_a, feed_b,
	open_time, close_time, settle_time,
	service_fee_bps, min_bet, max_bet, total_max_bet,
	outcomes, amounts_per_outcome, total_pool, status,
	final_price_a_closed::text, final_price_b_closed::text,
	final_price_a_settled::text, final_price_b_settled::text,
	winning_outcome, authority,
	created_at, updated_at, closed_at, settled_at, confirmed_at, version`

const betColumns = `
	market_id, bettor, amounts_per_outcome, total_bet_amount,
	claimed, payout, fee_paid, created_at, updated_at, claimed_at`

// Ledger implements domain.Ledger and domain.AuditStore on PostgreSQL.
// InTx serializes transactions that share a scope with a transaction-level
// advisory lock keyed on the scope string; rows touched inside are also
// locked with SELECT ... FOR UPDATE or by the UPDATE itself.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx implements domain.Ledger.
func (l *Ledger) InTx(ctx context.Context, scope string, fn func(ctx context.Context, tx domain.LedgerTx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx %s: %w", scope, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope); err != nil {
		return fmt.Errorf("postgres: lock scope %s: %w", scope, err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx %s: %w", scope, err)
	}
	return nil
}

// GetMarket implements domain.Ledger.
func (l *Ledger) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, l.pool, id, false)
}

// GetBet implements domain.Ledger.
func (l *Ledger) GetBet(ctx context.Context, marketID, bettor string) (domain.Bet, error) {
	return getBet(ctx, l.pool, marketID, bettor, false)
}

// ListBets implements domain.Ledger.
func (l *Ledger) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT`+betColumns+` FROM bets WHERE market_id = $1 ORDER BY created_at, bettor`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return out, nil
}

// ListDue implements domain.Ledger.
func (l *Ledger) ListDue(ctx context.Context, status domain.MarketStatus, before time.Time, limit int) ([]domain.Market, error) {
	due := "settle_time"
	if status == domain.MarketStatusOpened {
		due = "close_time"
	}
	query := `SELECT` + marketColumns + ` FROM markets WHERE status = $1 AND ` + due + ` <= $2 ORDER BY ` + due
	args := []any{string(status), before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due %s: %w", status, err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list due rows: %w", err)
	}
	return out, nil
}

// List implements domain.AuditStore, newest first. Nil bounds and a
// non-positive limit are ignored.
func (l *Ledger) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, event, detail, created_at FROM audit_log
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at <= $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`,
		opts.Since, opts.Until, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}

// Balance implements domain.Ledger. Unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, account string) (uint64, error) {
	var bal int64
	err := l.pool.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`, account).Scan(&bal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return uint64(bal), nil
}

// Credit implements domain.Ledger.
func (l *Ledger) Credit(ctx context.Context, account string, amount uint64) (uint64, error) {
	bal, err := credit(ctx, l.pool, account, amount)
	if err != nil {
		return 0, fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return bal, nil
}

// credit adds amount to account, creating the row on first use.
func credit(ctx context.Context, q querier, account string, amount uint64) (uint64, error) {
	amt, err := toInt64(amount)
	if err != nil {
		return 0, err
	}
	var bal int64
	err = q.QueryRow(ctx, `
		INSERT INTO balances (account, amount, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			amount     = balances.amount + EXCLUDED.amount,
			updated_at = NOW()
		RETURNING amount`, account, amt).Scan(&bal)
	if err != nil {
		return 0, mapPgError(err)
	}
	return uint64(bal), nil
}

func getMarket(ctx context.Context, q querier, id string, forUpdate bool) (domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	m, err := scanMarket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

func getBet(ctx context.Context, q querier, marketID, bettor string, forUpdate bool) (domain.Bet, error) {
	query := `SELECT` + betColumns + ` FROM bets WHERE market_id = $1 AND bettor = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	b, err := scanBet(q.QueryRow(ctx, query, marketID, bettor))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, fmt.Errorf("postgres: bet %s/%s: %w", marketID, bettor, domain.ErrNotFound)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s/%s: %w", marketID, bettor, err)
	}
	return b, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		marketType string
		status     string
		feeBps     int32
		minBet     int64
		maxBet     int64
		totalMax   int64
		amounts    []int64
		pool       int64
		version    int64
		prices     [4]*string
		winner     *int16
	)
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.ImageLink, &marketType, &m.FeedA, &m.FeedB,
		&m.OpenTime, &m.CloseTime, &m.SettleTime,
		&feeBps, &minBet, &maxBet, &totalMax,
		&m.Outcomes, &amounts, &pool, &status,
		&prices[0], &prices[1], &prices[2], &prices[3],
		&winner, &m.Authority,
		&m.CreatedAt, &m.UpdatedAt, &m.ClosedAt, &m.SettledAt, &m.ConfirmedAt, &version,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Version = uint64(version)

	m.Type = domain.MarketType(marketType)
	m.Status = domain.MarketStatus(status)
	m.ServiceFeeBps = uint16(feeBps)
	m.MinBet, m.MaxBet, m.TotalMaxBet, m.TotalPool = uint64(minBet), uint64(maxBet), uint64(totalMax), uint64(pool)
	m.AmountsPerOutcome = toUint64s(amounts)

	dst := []**decimal.Decimal{&m.FinalPriceAClosed, &m.FinalPriceBClosed, &m.FinalPriceASettled, &m.FinalPriceBSettled}
	for i, p := range prices {
		if p == nil {
			continue
		}
		d, err := decimal.NewFromString(*p)
		if err != nil {
			return domain.Market{}, fmt.Errorf("parse price %q: %w", *p, err)
		}
		*dst[i] = &d
	}
	if winner != nil {
		w := int(*winner)
		m.WinningOutcome = &w
	}
	return m, nil
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b       domain.Bet
		amounts []int64
		total   int64
		payout  int64
		fee     int64
	)
	err := row.Scan(
		&b.MarketID, &b.Bettor, &amounts, &total,
		&b.Claimed, &payout, &fee, &b.CreatedAt, &b.UpdatedAt, &b.ClaimedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}
	b.AmountsPerOutcome = toUint64s(amounts)
	b.TotalBetAmount, b.Payout, b.FeePaid = uint64(total), uint64(payout), uint64(fee)
	return b, nil
}

// marketArgs flattens a market into the column order of marketColumns.
func marketArgs(m domain.Market) ([]any, error) {
	amounts, err := toInt64s(m.AmountsPerOutcome)
	if err != nil {
		return nil, err
	}
	nums := make([]int64, 5)
	for i, v := range []uint64{m.MinBet, m.MaxBet, m.TotalMaxBet, m.TotalPool, m.Version} {
		if nums[i], err = toInt64(v); err != nil {
			return nil, err
		}
	}
	var winner *int16
	if m.WinningOutcome != nil {
		w := int16(*m.WinningOutcome)
		winner = &w
	}
	return []any{
		m.ID, m.Title, m.Description, m.ImageLink, string(m.Type), m.FeedA, m.FeedB,
		m.OpenTime, m.CloseTime, m.SettleTime,
		int32(m.ServiceFeeBps), nums[0], nums[1], nums[2],
		m.Outcomes, amounts, nums[3], string(m.Status),
		decimalArg(m.FinalPriceAClosed), decimalArg(m.FinalPriceBClosed),
		decimalArg(m.FinalPriceASettled), decimalArg(m.FinalPriceBSettled),
		winner, m.Authority,
		m.CreatedAt, m.UpdatedAt, m.ClosedAt, m.SettledAt, m.ConfirmedAt, nums[4],
	}, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d: %w", v, domain.ErrNumericalOverflow)
	}
	return int64(v), nil
}

func toInt64s(vs []uint64) ([]int64, error) {
	out := make([]int64, len(vs))
	for i, v := range vs {
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func toUint64s(vs []int64) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

// mapPgError translates constraint violations into domain errors.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, domain.ErrDuplicateMarket)
	case "22003":
		return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrNumericalOverflow)
	}
	return err
}

var (
	_ domain.Ledger     = (*Ledger)(nil)
	_ domain.AuditStore = (*Ledger)(nil)
)
