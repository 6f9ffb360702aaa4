package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/amount"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/settlement"
)

// SettlementService runs engine operations and then applies their
// post-commit effects: refreshing the market snapshot cache, publishing the
// lifecycle event, and archiving confirmed markets. None of those effects
// can undo or fail a committed operation.
type SettlementService struct {
	engine   *settlement.Engine
	ledger   domain.Ledger
	cache    domain.MarketCache
	archiver domain.Archiver
	events   *Publisher
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. cache, archiver, and
// events may be nil.
func NewSettlementService(
	engine *settlement.Engine,
	ledger domain.Ledger,
	cache domain.MarketCache,
	archiver domain.Archiver,
	events *Publisher,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:   engine,
		ledger:   ledger,
		cache:    cache,
		archiver: archiver,
		events:   events,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// IsAuthority reports whether principal may create markets and fund accounts.
func (s *SettlementService) IsAuthority(principal string) bool {
	return s.engine.IsAuthority(principal)
}

// CreateMarket creates a market owned by caller.
func (s *SettlementService) CreateMarket(ctx context.Context, caller string, args domain.CreateMarketArgs) (domain.Market, error) {
	m, err := s.engine.CreateMarket(ctx, caller, args)
	if err != nil {
		return domain.Market{}, err
	}
	s.refresh(ctx, m)
	s.events.Publish(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Actor:    caller,
		Detail: map[string]any{
			"market_type": string(m.Type),
			"outcomes":    m.Outcomes,
			"close_time":  m.CloseTime.Format(time.RFC3339),
			"settle_time": m.SettleTime.Format(time.RFC3339),
		},
	})
	return m, nil
}

// PlaceBet stakes amt on outcome for bettor.
func (s *SettlementService) PlaceBet(ctx context.Context, bettor, marketID string, outcome int, amt uint64) (settlement.PlaceResult, error) {
	res, err := s.engine.PlaceBet(ctx, bettor, marketID, outcome, amt)
	if err != nil {
		return settlement.PlaceResult{}, err
	}
	s.refresh(ctx, res.Market)
	s.events.Publish(ctx, domain.Event{
		Type:     domain.EventBetPlaced,
		MarketID: marketID,
		Actor:    bettor,
		Detail: map[string]any{
			"outcome":    outcome,
			"amount":     amt,
			"total_pool": res.Market.TotalPool,
		},
	})
	return res, nil
}

// CloseMarket stops betting and captures closing prices.
func (s *SettlementService) CloseMarket(ctx context.Context, caller, id string, feeds []string) (domain.Market, error) {
	m, err := s.engine.CloseMarket(ctx, caller, id, feeds)
	if err != nil {
		return domain.Market{}, err
	}
	s.transitioned(ctx, domain.EventMarketClosed, caller, m, pricesDetail(m.FinalPriceAClosed, m.FinalPriceBClosed))
	return m, nil
}

// SettleMarket captures settlement prices and, for Custom markets, records
// the manual outcome.
func (s *SettlementService) SettleMarket(ctx context.Context, caller, id string, feeds []string, manualOutcome *int) (domain.Market, error) {
	m, err := s.engine.SettleMarket(ctx, caller, id, feeds, manualOutcome)
	if err != nil {
		return domain.Market{}, err
	}
	s.transitioned(ctx, domain.EventMarketSettled, caller, m, pricesDetail(m.FinalPriceASettled, m.FinalPriceBSettled))
	return m, nil
}

// SetWinningOutcome records the winner of a Settled market, which confirms
// it.
func (s *SettlementService) SetWinningOutcome(ctx context.Context, caller, id string, index int) (domain.Market, error) {
	m, err := s.engine.SetWinningOutcome(ctx, caller, id, index)
	if err != nil {
		return domain.Market{}, err
	}
	s.confirmed(ctx, caller, m, nil)
	return m, nil
}

// ResolveFromFeeds derives the winner from captured prices and confirms the
// market.
func (s *SettlementService) ResolveFromFeeds(ctx context.Context, caller, id string) (domain.Market, error) {
	m, err := s.engine.ResolveFromFeeds(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}
	s.confirmed(ctx, caller, m, map[string]any{"derived": true})
	return m, nil
}

// ConfirmMarket confirms a market whose winner was recorded at settlement.
func (s *SettlementService) ConfirmMarket(ctx context.Context, caller, id string) (domain.Market, error) {
	m, err := s.engine.ConfirmMarket(ctx, caller, id)
	if err != nil {
		return domain.Market{}, err
	}
	s.confirmed(ctx, caller, m, nil)
	return m, nil
}

// confirmed archives the settlement record of a newly confirmed market and
// publishes the confirmation.
func (s *SettlementService) confirmed(ctx context.Context, caller string, m domain.Market, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["total_pool"] = m.TotalPool
	if fee, dist, err := amount.Split(m.TotalPool, m.ServiceFeeBps); err == nil {
		detail["fee"], detail["distributable"] = fee, dist
	}
	if path, err := s.archive(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "archive settlement failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	} else if path != "" {
		detail["archive"] = path
	}

	s.transitioned(ctx, domain.EventMarketConfirmed, caller, m, detail)
}

// ClaimReward pays out bettor's share of a confirmed market.
func (s *SettlementService) ClaimReward(ctx context.Context, bettor, marketID string) (settlement.ClaimResult, error) {
	res, err := s.engine.ClaimReward(ctx, bettor, marketID)
	if err != nil {
		return settlement.ClaimResult{}, err
	}
	s.events.Publish(ctx, domain.Event{
		Type:     domain.EventRewardClaimed,
		MarketID: marketID,
		Actor:    bettor,
		Detail:   map[string]any{"payout": res.Payout, "fee": res.Fee},
	})
	return res, nil
}

// Archive writes the settlement record of a confirmed market. It is safe to
// call repeatedly.
func (s *SettlementService) Archive(ctx context.Context, id string) (string, error) {
	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return "", err
	}
	if m.Status != domain.MarketStatusConfirmed {
		return "", domain.ErrMarketNotConfirmed
	}
	return s.archive(ctx, m)
}

func (s *SettlementService) archive(ctx context.Context, m domain.Market) (string, error) {
	if s.archiver == nil {
		return "", nil
	}
	bets, err := s.ledger.ListBets(ctx, m.ID)
	if err != nil {
		return "", err
	}
	fee, dist, err := amount.Split(m.TotalPool, m.ServiceFeeBps)
	if err != nil {
		return "", err
	}
	return s.archiver.ArchiveSettlement(ctx, domain.SettlementRecord{
		Market:        m,
		Bets:          bets,
		Fee:           fee,
		Distributable: dist,
		WinningStake:  m.WinningStake(),
		ArchivedAt:    time.Now().UTC(),
	})
}

func (s *SettlementService) transitioned(ctx context.Context, typ domain.EventType, caller string, m domain.Market, detail map[string]any) {
	s.refresh(ctx, m)
	if detail == nil {
		detail = map[string]any{}
	}
	detail["status"] = string(m.Status)
	if m.WinningOutcome != nil {
		detail["winning_outcome"] = *m.WinningOutcome
	}
	s.events.Publish(ctx, domain.Event{Type: typ, MarketID: m.ID, Actor: caller, Detail: detail})
}

// refresh stores the committed snapshot. The cache keeps whichever version
// is highest, so a slower read-path fill cannot replace it. The entry is
// dropped if the write fails so readers fall back to the ledger.
func (s *SettlementService) refresh(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market cache set failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		_ = s.cache.Invalidate(ctx, m.ID)
	}
}

func pricesDetail(a, b *decimal.Decimal) map[string]any {
	detail := map[string]any{}
	if a != nil {
		detail["price_a"] = a.String()
	}
	if b != nil {
		detail["price_b"] = b.String()
	}
	return detail
}
