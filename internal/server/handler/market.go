package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/settlement"
)

// SettlementService is the write side of the market lifecycle. It is
// declared locally so the handler package does not depend on the concrete
// service implementation.
type SettlementService interface {
	CreateMarket(ctx context.Context, caller string, args domain.CreateMarketArgs) (domain.Market, error)
	PlaceBet(ctx context.Context, bettor, marketID string, outcome int, amt uint64) (settlement.PlaceResult, error)
	CloseMarket(ctx context.Context, caller, id string, feeds []string) (domain.Market, error)
	SettleMarket(ctx context.Context, caller, id string, feeds []string, manualOutcome *int) (domain.Market, error)
	SetWinningOutcome(ctx context.Context, caller, id string, index int) (domain.Market, error)
	ResolveFromFeeds(ctx context.Context, caller, id string) (domain.Market, error)
	ConfirmMarket(ctx context.Context, caller, id string) (domain.Market, error)
	ClaimReward(ctx context.Context, bettor, marketID string) (settlement.ClaimResult, error)
}

// MarketReader serves market and bet snapshots plus archived records.
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetBet(ctx context.Context, marketID, bettor string) (domain.Bet, error)
	ListBets(ctx context.Context, marketID string) ([]domain.Bet, error)
	Record(ctx context.Context, marketID string) (domain.SettlementRecord, error)
	ArchivedMarkets(ctx context.Context) ([]string, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	settle  SettlementService
	markets MarketReader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(settle SettlementService, markets MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		settle:  settle,
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type createMarketRequest struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	ImageLink     string            `json:"image_link"`
	Type          domain.MarketType `json:"type"`
	FeedA         string            `json:"feed_a"`
	FeedB         string            `json:"feed_b"`
	OpenTime      time.Time         `json:"open_time"`
	CloseTime     time.Time         `json:"close_time"`
	SettleTime    time.Time         `json:"settle_time"`
	ServiceFeeBps uint16            `json:"service_fee_bps"`
	MinBet        flexAmount        `json:"min_bet"`
	MaxBet        flexAmount        `json:"max_bet"`
	TotalMaxBet   flexAmount        `json:"total_max_bet"`
	Outcomes      []string          `json:"outcomes"`
}

// CreateMarket registers a new market. Authority only.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	m, err := h.settle.CreateMarket(r.Context(), caller, domain.CreateMarketArgs{
		ID:            req.ID,
		Title:         req.Title,
		Description:   req.Description,
		ImageLink:     req.ImageLink,
		Type:          req.Type,
		FeedA:         req.FeedA,
		FeedB:         req.FeedB,
		OpenTime:      req.OpenTime,
		CloseTime:     req.CloseTime,
		SettleTime:    req.SettleTime,
		ServiceFeeBps: req.ServiceFeeBps,
		MinBet:        req.MinBet.units,
		MaxBet:        req.MaxBet.units,
		TotalMaxBet:   req.TotalMaxBet.units,
		Outcomes:      req.Outcomes,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewMarket(m))
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, viewMarket(m))
}

type feedsRequest struct {
	Feeds         []string `json:"feeds"`
	ManualOutcome *int     `json:"manual_outcome"`
}

// CloseMarket samples the close prices and stops betting. Authority only.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req feedsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	m, err := h.settle.CloseMarket(r.Context(), caller, pathParam(r, "id"), req.Feeds)
	h.respond(w, r, "close market", m, err)
}

// SettleMarket samples the settle prices and optionally records a manual
// winner. Authority only.
// POST /api/markets/{id}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req feedsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	m, err := h.settle.SettleMarket(r.Context(), caller, pathParam(r, "id"), req.Feeds, req.ManualOutcome)
	h.respond(w, r, "settle market", m, err)
}

type winnerRequest struct {
	Outcome *int `json:"outcome"`
}

// SetWinningOutcome records the winner of a settled market and confirms
// it. Authority only.
// POST /api/markets/{id}/winner
func (h *MarketHandler) SetWinningOutcome(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req winnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "outcome is required")
		return
	}
	m, err := h.settle.SetWinningOutcome(r.Context(), caller, pathParam(r, "id"), *req.Outcome)
	h.respond(w, r, "set winner", m, err)
}

// ResolveFromFeeds derives the winner from the captured prices.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveFromFeeds(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	m, err := h.settle.ResolveFromFeeds(r.Context(), caller, pathParam(r, "id"))
	h.respond(w, r, "resolve market", m, err)
}

// ConfirmMarket confirms a settled market whose winner is already chosen.
// POST /api/markets/{id}/confirm
func (h *MarketHandler) ConfirmMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	m, err := h.settle.ConfirmMarket(r.Context(), caller, pathParam(r, "id"))
	h.respond(w, r, "confirm market", m, err)
}

// GetRecord returns the archived settlement record of a confirmed market.
// GET /api/markets/{id}/record
func (h *MarketHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.markets.Record(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market":        viewMarket(rec.Market),
		"bets":          viewBets(rec.Bets),
		"fee":           viewAmount(rec.Fee),
		"distributable": viewAmount(rec.Distributable),
		"winning_stake": viewAmount(rec.WinningStake),
		"archived_at":   rec.ArchivedAt,
	})
}

// ListArchived returns the ids of markets with an archived record.
// GET /api/archive
func (h *MarketHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	ids, err := h.markets.ArchivedMarkets(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list archive", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": ids, "total": len(ids)})
}

func (h *MarketHandler) respond(w http.ResponseWriter, r *http.Request, op string, m domain.Market, err error) {
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMarket(m))
}
