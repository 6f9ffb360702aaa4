// Package settlement implements the market state machine and the
// pari-mutuel settlement and claim engine. Every operation runs inside one
// scoped ledger transaction, so a failed operation leaves no partial state.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Clock supplies the current time to the engine's time gates.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Config holds engine policy.
type Config struct {
	// Authorities are the principals allowed to create markets. Each market
	// records its creator as the sole authority for later transitions.
	Authorities []string
	// FeeAccount receives service fees. When empty the market authority's
	// account is used.
	FeeAccount string
}

// Engine drives market transitions, bet placement, and claims.
type Engine struct {
	ledger      domain.Ledger
	feeds       domain.PriceFeed
	clock       Clock
	authorities map[string]bool
	feeAccount  string
	logger      *slog.Logger
}

// NewEngine creates an Engine over ledger. feeds may be nil when only Custom
// markets are used.
func NewEngine(ledger domain.Ledger, feeds domain.PriceFeed, cfg Config, logger *slog.Logger) *Engine {
	auth := make(map[string]bool, len(cfg.Authorities))
	for _, a := range cfg.Authorities {
		auth[a] = true
	}
	return &Engine{
		ledger:      ledger,
		feeds:       feeds,
		clock:       ClockFunc(time.Now),
		authorities: auth,
		feeAccount:  cfg.FeeAccount,
		logger:      logger.With(slog.String("component", "settlement")),
	}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// IsAuthority reports whether principal may create markets.
func (e *Engine) IsAuthority(principal string) bool {
	return e.authorities[principal]
}

// CustodyAccount is the ledger account holding a market's pooled stakes.
func CustodyAccount(marketID string) string {
	return crypto.MarketAddress(marketID).Hex()
}

func marketScope(id string) string { return "market:" + id }

func betScope(marketID, bettor string) string { return "bet:" + marketID + ":" + bettor }

// CreateMarket allocates a new Opened market owned by caller.
func (e *Engine) CreateMarket(ctx context.Context, caller string, args domain.CreateMarketArgs) (domain.Market, error) {
	if !e.authorities[caller] {
		return domain.Market{}, fmt.Errorf("settlement: create market: %w", domain.ErrUnauthorized)
	}
	if err := validateCreate(args); err != nil {
		return domain.Market{}, fmt.Errorf("settlement: create market %q: %w", args.ID, err)
	}

	now := e.clock.Now().UTC()
	m := domain.Market{
		ID:                args.ID,
		Title:             args.Title,
		Description:       args.Description,
		ImageLink:         args.ImageLink,
		Type:              args.Type,
		FeedA:             args.FeedA,
		FeedB:             args.FeedB,
		OpenTime:          args.OpenTime.UTC(),
		CloseTime:         args.CloseTime.UTC(),
		SettleTime:        args.SettleTime.UTC(),
		ServiceFeeBps:     args.ServiceFeeBps,
		MinBet:            args.MinBet,
		MaxBet:            args.MaxBet,
		TotalMaxBet:       args.TotalMaxBet,
		Outcomes:          append([]string(nil), args.Outcomes...),
		AmountsPerOutcome: make([]uint64, len(args.Outcomes)),
		Status:            domain.MarketStatusOpened,
		Authority:         caller,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}

	err := e.ledger.InTx(ctx, marketScope(m.ID), func(ctx context.Context, tx domain.LedgerTx) error {
		if err := tx.InsertMarket(ctx, m); err != nil {
			return err
		}
		return tx.Audit(ctx, string(domain.EventMarketCreated), map[string]any{
			"market_id": m.ID,
			"type":      string(m.Type),
			"authority": caller,
			"outcomes":  m.Outcomes,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: create market %q: %w", m.ID, err)
	}

	e.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("type", string(m.Type)),
		slog.Int("outcomes", len(m.Outcomes)),
	)
	return m, nil
}

// CloseMarket stops betting and captures the closing prices of the market's
// feeds.
func (e *Engine) CloseMarket(ctx context.Context, caller, id string, feeds []string) (domain.Market, error) {
	out, err := e.transition(ctx, caller, id, func(ctx context.Context, m *domain.Market, now time.Time) error {
		if m.Status != domain.MarketStatusOpened {
			return fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.Status)
		}
		if now.Before(m.CloseTime) {
			return fmt.Errorf("%w: closes at %s", domain.ErrTooEarly, m.CloseTime.Format(time.RFC3339))
		}
		if err := checkFeeds(*m, feeds); err != nil {
			return err
		}
		samples, err := e.sample(ctx, feeds)
		if err != nil {
			return err
		}
		m.FeedA, m.FeedB = feedAt(feeds, 0), feedAt(feeds, 1)
		m.FinalPriceAClosed, m.FinalPriceBClosed = priceAt(samples, 0), priceAt(samples, 1)
		m.Status = domain.MarketStatusClosed
		m.ClosedAt = &now
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: close market %q: %w", id, err)
	}
	return out, nil
}

// SettleMarket captures the settlement prices. For Custom markets a manual
// outcome may be supplied and is recorded immediately.
func (e *Engine) SettleMarket(ctx context.Context, caller, id string, feeds []string, manualOutcome *int) (domain.Market, error) {
	out, err := e.transition(ctx, caller, id, func(ctx context.Context, m *domain.Market, now time.Time) error {
		if m.Status != domain.MarketStatusClosed {
			return fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.Status)
		}
		if now.Before(m.SettleTime) {
			return fmt.Errorf("%w: settles at %s", domain.ErrTooEarly, m.SettleTime.Format(time.RFC3339))
		}
		if err := checkFeeds(*m, feeds); err != nil {
			return err
		}
		if manualOutcome != nil {
			if m.Type != domain.MarketTypeCustom {
				return fmt.Errorf("%w: manual outcome on %s market", domain.ErrInvalidConfig, m.Type)
			}
			if *manualOutcome < 0 || *manualOutcome >= len(m.Outcomes) {
				return fmt.Errorf("%w: %d of %d", domain.ErrOutcomeOutOfRange, *manualOutcome, len(m.Outcomes))
			}
		}
		samples, err := e.sample(ctx, feeds)
		if err != nil {
			return err
		}
		m.FinalPriceASettled, m.FinalPriceBSettled = priceAt(samples, 0), priceAt(samples, 1)
		if manualOutcome != nil {
			w := *manualOutcome
			m.WinningOutcome = &w
		}
		m.Status = domain.MarketStatusSettled
		m.SettledAt = &now
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: settle market %q: %w", id, err)
	}
	return out, nil
}

// SetWinningOutcome fixes the winning outcome exactly once and confirms the
// market.
func (e *Engine) SetWinningOutcome(ctx context.Context, caller, id string, index int) (domain.Market, error) {
	out, err := e.transition(ctx, caller, id, func(_ context.Context, m *domain.Market, now time.Time) error {
		return confirm(m, index, now)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: set winning outcome %q: %w", id, err)
	}
	return out, nil
}

// ResolveFromFeeds derives the winning outcome from the captured prices and
// confirms the market.
func (e *Engine) ResolveFromFeeds(ctx context.Context, caller, id string) (domain.Market, error) {
	out, err := e.transition(ctx, caller, id, func(_ context.Context, m *domain.Market, now time.Time) error {
		if m.WinningOutcome != nil {
			return domain.ErrAlreadySet
		}
		if m.Status != domain.MarketStatusSettled {
			return fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.Status)
		}
		idx, err := DeriveOutcome(*m)
		if err != nil {
			return err
		}
		return confirm(m, idx, now)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: resolve market %q: %w", id, err)
	}
	return out, nil
}

// ConfirmMarket confirms a Settled market whose outcome was recorded at
// settlement.
func (e *Engine) ConfirmMarket(ctx context.Context, caller, id string) (domain.Market, error) {
	out, err := e.transition(ctx, caller, id, func(_ context.Context, m *domain.Market, now time.Time) error {
		if m.Status != domain.MarketStatusSettled {
			return fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.Status)
		}
		if m.WinningOutcome == nil {
			return domain.ErrNoWinnerChosen
		}
		m.Status = domain.MarketStatusConfirmed
		m.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("settlement: confirm market %q: %w", id, err)
	}
	return out, nil
}

func confirm(m *domain.Market, index int, now time.Time) error {
	if m.WinningOutcome != nil {
		return domain.ErrAlreadySet
	}
	if m.Status != domain.MarketStatusSettled {
		return fmt.Errorf("%w: market is %s", domain.ErrInvalidState, m.Status)
	}
	if index < 0 || index >= len(m.Outcomes) {
		return fmt.Errorf("%w: %d of %d", domain.ErrOutcomeOutOfRange, index, len(m.Outcomes))
	}
	w := index
	m.WinningOutcome = &w
	m.Status = domain.MarketStatusConfirmed
	m.ConfirmedAt = &now
	return nil
}

// transition runs one authority-gated mutation of a market under its scope
// lock and persists the result.
func (e *Engine) transition(
	ctx context.Context,
	caller, id string,
	apply func(ctx context.Context, m *domain.Market, now time.Time) error,
) (domain.Market, error) {
	var out domain.Market
	err := e.ledger.InTx(ctx, marketScope(id), func(ctx context.Context, tx domain.LedgerTx) error {
		m, err := tx.LockMarket(ctx, id)
		if err != nil {
			return err
		}
		if caller != m.Authority {
			return domain.ErrUnauthorized
		}
		from := m.Status
		now := e.clock.Now().UTC()
		if err := apply(ctx, &m, now); err != nil {
			return err
		}
		m.UpdatedAt = now
		m.Version++
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		detail := map[string]any{
			"market_id": m.ID,
			"from":      string(from),
			"to":        string(m.Status),
		}
		if m.WinningOutcome != nil {
			detail["winning_outcome"] = *m.WinningOutcome
		}
		if err := tx.Audit(ctx, "market_transition", detail); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	e.logger.InfoContext(ctx, "market transition",
		slog.String("market_id", id),
		slog.String("status", string(out.Status)),
	)
	return out, nil
}

func (e *Engine) sample(ctx context.Context, feeds []string) ([]domain.PriceSample, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	if e.feeds == nil {
		return nil, domain.ErrFeedUnavailable
	}
	out := make([]domain.PriceSample, 0, len(feeds))
	for _, id := range feeds {
		s, err := e.feeds.Sample(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("sample feed %q: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}
