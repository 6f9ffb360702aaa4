package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// MarketService serves read paths: market snapshots (cache first), bets,
// balances, archived settlement records, and the audit log. It also funds
// accounts on behalf of an authority.
type MarketService struct {
	ledger   domain.Ledger
	audit    domain.AuditStore
	cache    domain.MarketCache
	archiver domain.Archiver
	auth     func(string) bool
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. audit, cache, and archiver may
// be nil; isAuthority gates Credit.
func NewMarketService(
	ledger domain.Ledger,
	audit domain.AuditStore,
	cache domain.MarketCache,
	archiver domain.Archiver,
	isAuthority func(string) bool,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:   ledger,
		audit:    audit,
		cache:    cache,
		archiver: archiver,
		auth:     isAuthority,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket returns a market snapshot, populating the cache on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if s.cache != nil {
		m, err := s.cache.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market cache get failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// GetBet returns bettor's record on a market.
func (s *MarketService) GetBet(ctx context.Context, marketID, bettor string) (domain.Bet, error) {
	return s.ledger.GetBet(ctx, marketID, bettor)
}

// ListBets returns every bet on a market.
func (s *MarketService) ListBets(ctx context.Context, marketID string) ([]domain.Bet, error) {
	if _, err := s.ledger.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.ledger.ListBets(ctx, marketID)
}

// Balance returns an account's spendable balance.
func (s *MarketService) Balance(ctx context.Context, account string) (uint64, error) {
	return s.ledger.Balance(ctx, account)
}

// Credit funds account from outside the system. Only authorities may do so.
func (s *MarketService) Credit(ctx context.Context, caller, account string, amt uint64) (uint64, error) {
	if s.auth == nil || !s.auth(caller) {
		return 0, fmt.Errorf("credit %s: %w", account, domain.ErrUnauthorized)
	}
	if amt == 0 {
		return 0, fmt.Errorf("credit %s: %w: zero amount", account, domain.ErrInvalidConfig)
	}
	bal, err := s.ledger.Credit(ctx, account, amt)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "account credited",
		slog.String("account", account),
		slog.String("caller", caller),
		slog.Uint64("amount", amt),
		slog.Uint64("balance", bal),
	)
	return bal, nil
}

// Record returns the archived settlement record of a confirmed market.
func (s *MarketService) Record(ctx context.Context, marketID string) (domain.SettlementRecord, error) {
	if s.archiver == nil {
		return domain.SettlementRecord{}, fmt.Errorf("settlement archive: %w", domain.ErrUnavailable)
	}
	return s.archiver.FetchSettlement(ctx, marketID)
}

// ArchivedMarkets lists market ids with an archived settlement record.
func (s *MarketService) ArchivedMarkets(ctx context.Context) ([]string, error) {
	if s.archiver == nil {
		return nil, fmt.Errorf("settlement archive: %w", domain.ErrUnavailable)
	}
	return s.archiver.ListSettlements(ctx)
}

// Audit returns audit log entries, newest first.
func (s *MarketService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, fmt.Errorf("audit log: %w", domain.ErrUnavailable)
	}
	return s.audit.List(ctx, opts)
}
