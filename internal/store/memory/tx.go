package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// memTx stages writes until commit. Reads see staged values first.
type memTx struct {
	l       *Ledger
	markets map[string]domain.Market
	bets    map[betKey]domain.Bet
	credits map[string]uint64
	debits  map[string]uint64
	audit   []domain.AuditEntry
}

func (t *memTx) accounts() []string {
	seen := make(map[string]bool, len(t.credits)+len(t.debits))
	var out []string
	for _, m := range []map[string]uint64{t.credits, t.debits} {
		for acct := range m {
			if !seen[acct] {
				seen[acct] = true
				out = append(out, acct)
			}
		}
	}
	return out
}

func (t *memTx) InsertMarket(_ context.Context, m domain.Market) error {
	if _, ok := t.markets[m.ID]; ok {
		return fmt.Errorf("memory: insert market %s: %w", m.ID, domain.ErrDuplicateMarket)
	}
	t.l.mu.RLock()
	_, exists := t.l.markets[m.ID]
	t.l.mu.RUnlock()
	if exists {
		return fmt.Errorf("memory: insert market %s: %w", m.ID, domain.ErrDuplicateMarket)
	}
	t.markets[m.ID] = m.Clone()
	return nil
}

func (t *memTx) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m.Clone(), nil
	}
	return t.l.GetMarket(ctx, id)
}

func (t *memTx) LockMarket(ctx context.Context, id string) (domain.Market, error) {
	return t.GetMarket(ctx, id)
}

func (t *memTx) UpdateMarket(ctx context.Context, m domain.Market) error {
	cur, err := t.GetMarket(ctx, m.ID)
	if err != nil {
		return err
	}
	if m.Version != cur.Version+1 {
		return fmt.Errorf("memory: update market %s: version %d after %d: %w", m.ID, m.Version, cur.Version, domain.ErrInvalidState)
	}
	t.markets[m.ID] = m.Clone()
	return nil
}

func (t *memTx) LockBet(ctx context.Context, marketID, bettor string) (domain.Bet, error) {
	if b, ok := t.bets[betKey{marketID, bettor}]; ok {
		return b.Clone(), nil
	}
	return t.l.GetBet(ctx, marketID, bettor)
}

func (t *memTx) UpsertBet(_ context.Context, b domain.Bet) error {
	t.bets[betKey{b.MarketID, b.Bettor}] = b.Clone()
	return nil
}

func (t *memTx) Transfer(_ context.Context, from, to string, amt uint64) error {
	if amt == 0 || from == to {
		return nil
	}
	t.l.mu.RLock()
	committed := t.l.balances[from]
	t.l.mu.RUnlock()

	avail, err := amount.Add(committed, t.credits[from])
	if err != nil {
		return err
	}
	if avail-t.debits[from] < amt {
		return fmt.Errorf("memory: transfer %d from %s: %w", amt, from, domain.ErrInsufficientFunds)
	}
	credit, err := amount.Add(t.credits[to], amt)
	if err != nil {
		return err
	}
	t.debits[from] += amt
	t.credits[to] = credit
	return nil
}

func (t *memTx) Audit(_ context.Context, event string, detail map[string]any) error {
	t.audit = append(t.audit, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}
