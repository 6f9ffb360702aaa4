package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Ledger is the transactional store for markets, bets, balances, and the
// audit log. Every mutation goes through InTx so market counters, bet
// records, and fund transfers commit or roll back together.
type Ledger interface {
	// InTx runs fn inside a transaction serialized against every other
	// transaction using the same scope key. Transactions with different
	// scopes run in parallel.
	InTx(ctx context.Context, scope string, fn func(ctx context.Context, tx LedgerTx) error) error

	GetMarket(ctx context.Context, id string) (Market, error)
	GetBet(ctx context.Context, marketID, bettor string) (Bet, error)
	ListBets(ctx context.Context, marketID string) ([]Bet, error)
	// ListDue returns markets in status whose next transition time is at or
	// before the given instant, oldest first.
	ListDue(ctx context.Context, status MarketStatus, before time.Time, limit int) ([]Market, error)

	Balance(ctx context.Context, account string) (uint64, error)
	// Credit funds account from outside the system and returns the new
	// balance.
	Credit(ctx context.Context, account string, amount uint64) (uint64, error)
}

// LedgerTx is the view of the ledger inside one scoped transaction.
type LedgerTx interface {
	InsertMarket(ctx context.Context, m Market) error
	// GetMarket reads a market without holding it.
	GetMarket(ctx context.Context, id string) (Market, error)
	// LockMarket loads a market and holds it for the rest of the transaction.
	LockMarket(ctx context.Context, id string) (Market, error)
	// UpdateMarket stores m, which must carry the next Version.
	UpdateMarket(ctx context.Context, m Market) error

	// LockBet loads a bet and holds it for the rest of the transaction. It
	// returns ErrNotFound when the bettor has never staked on the market.
	LockBet(ctx context.Context, marketID, bettor string) (Bet, error)
	UpsertBet(ctx context.Context, b Bet) error

	// Transfer moves amount between accounts, failing with
	// ErrInsufficientFunds if from cannot cover it.
	Transfer(ctx context.Context, from, to string, amount uint64) error

	Audit(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore reads the append-only audit log written by ledger transactions.
type AuditStore interface {
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
