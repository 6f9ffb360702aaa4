package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// AccountService reads and funds custody balances.
type AccountService interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Credit(ctx context.Context, caller, account string, amt uint64) (uint64, error)
}

// AccountHandler serves balance endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logHandler(logger, "account")}
}

// GetBalance returns an account's spendable balance.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := normalizeAccount(pathParam(r, "address"))
	bal, err := h.accounts.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": viewAmount(bal),
	})
}

type creditRequest struct {
	Amount flexAmount `json:"amount"`
}

// Credit funds an account. Authority only.
// POST /api/accounts/{address}/credit
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	account := normalizeAccount(pathParam(r, "address"))
	bal, err := h.accounts.Credit(r.Context(), caller, account, req.Amount.units)
	if err != nil {
		writeDomainError(w, r, h.logger, "credit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"balance": viewAmount(bal),
	})
}
