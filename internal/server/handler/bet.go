package handler

import (
	"net/http"
)

type placeBetRequest struct {
	Outcome *int       `json:"outcome"`
	Amount  flexAmount `json:"amount"`
}

// PlaceBet stakes the caller's funds on one outcome.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	bettor, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Outcome == nil || !req.Amount.set {
		writeError(w, http.StatusBadRequest, "invalid_request", "outcome and amount are required")
		return
	}

	res, err := h.settle.PlaceBet(r.Context(), bettor, pathParam(r, "id"), *req.Outcome, req.Amount.units)
	if err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market": viewMarket(res.Market),
		"bet":    viewBet(res.Bet),
	})
}

// GetBet returns one bettor's record on a market.
// GET /api/markets/{id}/bets/{bettor}
func (h *MarketHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	b, err := h.markets.GetBet(r.Context(), pathParam(r, "id"), normalizeAccount(pathParam(r, "bettor")))
	if err != nil {
		writeDomainError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, viewBet(b))
}

// ListBets returns every bet placed on a market.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.markets.ListBets(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bets":  viewBets(bets),
		"total": len(bets),
	})
}

// ClaimReward pays the caller's share of a confirmed market.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	bettor, ok := requireCaller(w, r)
	if !ok {
		return
	}
	res, err := h.settle.ClaimReward(r.Context(), bettor, pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "claim reward", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payout": viewAmount(res.Payout),
		"fee":    viewAmount(res.Fee),
		"bet":    viewBet(res.Bet),
	})
}
