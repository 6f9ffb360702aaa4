package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// FeedService reads and sets cached feed prices.
type FeedService interface {
	SetPrice(ctx context.Context, caller, feedID string, price decimal.Decimal, at time.Time) (domain.PriceSample, error)
	GetPrice(ctx context.Context, feedID string) (domain.PriceSample, error)
}

// FeedHandler serves price feed endpoints.
type FeedHandler struct {
	feeds  FeedService
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feeds FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feeds: feeds, logger: logHandler(logger, "feed")}
}

type priceView struct {
	Feed        string          `json:"feed"`
	Price       decimal.Decimal `json:"price"`
	PublishedAt time.Time       `json:"published_at"`
}

type setPriceRequest struct {
	Price       decimal.Decimal `json:"price"`
	PublishedAt *time.Time      `json:"published_at"`
}

// SetPrice records an operator-supplied price. Authority only.
// PUT /api/feeds/{id}
func (h *FeedHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req setPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var at time.Time
	if req.PublishedAt != nil {
		at = *req.PublishedAt
	}

	s, err := h.feeds.SetPrice(r.Context(), caller, pathParam(r, "id"), req.Price, at)
	if err != nil {
		writeDomainError(w, r, h.logger, "set price", err)
		return
	}
	writeJSON(w, http.StatusOK, priceView{Feed: s.FeedID, Price: s.Price, PublishedAt: s.PublishedAt})
}

// GetPrice returns the latest cached price of a feed.
// GET /api/feeds/{id}
func (h *FeedHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	s, err := h.feeds.GetPrice(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, priceView{Feed: s.FeedID, Price: s.Price, PublishedAt: s.PublishedAt})
}
