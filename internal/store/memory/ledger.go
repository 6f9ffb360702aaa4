// Package memory implements domain.Ledger in process memory. It backs tests
// and the "memory" ledger backend for local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Ledger holds committed state behind one RWMutex. Transactions serialize on
// a per-scope mutex, stage their writes, and apply them at commit after
// re-checking every balance they touch.
type Ledger struct {
	mu       sync.RWMutex
	markets  map[string]domain.Market
	bets     map[betKey]domain.Bet
	balances map[string]uint64
	audit    []domain.AuditEntry

	scopesMu sync.Mutex
	scopes   map[string]*sync.Mutex

	now func() time.Time
}

type betKey struct {
	market string
	bettor string
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		markets:  make(map[string]domain.Market),
		bets:     make(map[betKey]domain.Bet),
		balances: make(map[string]uint64),
		scopes:   make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

func (l *Ledger) scopeLock(scope string) *sync.Mutex {
	l.scopesMu.Lock()
	defer l.scopesMu.Unlock()
	m, ok := l.scopes[scope]
	if !ok {
		m = &sync.Mutex{}
		l.scopes[scope] = m
	}
	return m
}

// InTx implements domain.Ledger.
func (l *Ledger) InTx(ctx context.Context, scope string, fn func(ctx context.Context, tx domain.LedgerTx) error) error {
	lock := l.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		l:       l,
		markets: make(map[string]domain.Market),
		bets:    make(map[betKey]domain.Bet),
		credits: make(map[string]uint64),
		debits:  make(map[string]uint64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *Ledger) commit(tx *memTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]uint64, len(tx.credits)+len(tx.debits))
	for _, acct := range tx.accounts() {
		bal, err := amount.Add(l.balances[acct], tx.credits[acct])
		if err != nil {
			return fmt.Errorf("memory: credit %s: %w", acct, err)
		}
		if bal < tx.debits[acct] {
			return fmt.Errorf("memory: debit %s: %w", acct, domain.ErrInsufficientFunds)
		}
		next[acct] = bal - tx.debits[acct]
	}

	for acct, bal := range next {
		l.balances[acct] = bal
	}
	for id, m := range tx.markets {
		l.markets[id] = m
	}
	for k, b := range tx.bets {
		l.bets[k] = b
	}
	for _, e := range tx.audit {
		e.ID = int64(len(l.audit) + 1)
		e.CreatedAt = l.now().UTC()
		l.audit = append(l.audit, e)
	}
	return nil
}

// GetMarket implements domain.Ledger.
func (l *Ledger) GetMarket(_ context.Context, id string) (domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

// GetBet implements domain.Ledger.
func (l *Ledger) GetBet(_ context.Context, marketID, bettor string) (domain.Bet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bets[betKey{marketID, bettor}]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %s/%s: %w", marketID, bettor, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

// ListBets implements domain.Ledger.
func (l *Ledger) ListBets(_ context.Context, marketID string) ([]domain.Bet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Bet
	for k, b := range l.bets {
		if k.market == marketID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Bettor < out[j].Bettor
	})
	return out, nil
}

// ListDue implements domain.Ledger.
func (l *Ledger) ListDue(_ context.Context, status domain.MarketStatus, before time.Time, limit int) ([]domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Market
	for _, m := range l.markets {
		if m.Status != status {
			continue
		}
		if due := DueAt(m); !due.After(before) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return DueAt(out[i]).Before(DueAt(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DueAt returns the time at which a market in its current status becomes
// eligible for the next transition.
func DueAt(m domain.Market) time.Time {
	if m.Status == domain.MarketStatusOpened {
		return m.CloseTime
	}
	return m.SettleTime
}

// Balance implements domain.Ledger.
func (l *Ledger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

// Credit implements domain.Ledger.
func (l *Ledger) Credit(_ context.Context, account string, amt uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := amount.Add(l.balances[account], amt)
	if err != nil {
		return 0, fmt.Errorf("memory: credit %s: %w", account, err)
	}
	l.balances[account] = bal
	return bal, nil
}

// List implements domain.AuditStore, newest first.
func (l *Ledger) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(l.audit) - 1; i >= 0; i-- {
		e := l.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
