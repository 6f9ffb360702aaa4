package handler

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/crypto"
	"github.com/alanyoungcy/wagerd/internal/domain"
	"github.com/alanyoungcy/wagerd/internal/settlement"
)

type outcomeView struct {
	Index int        `json:"index"`
	Label string     `json:"label"`
	Pool  amountView `json:"pool"`
}

type marketView struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description,omitempty"`
	ImageLink      string              `json:"image_link,omitempty"`
	Type           domain.MarketType   `json:"type"`
	Status         domain.MarketStatus `json:"status"`
	FeedA          string              `json:"feed_a,omitempty"`
	FeedB          string              `json:"feed_b,omitempty"`
	OpenTime       time.Time           `json:"open_time"`
	CloseTime      time.Time           `json:"close_time"`
	SettleTime     time.Time           `json:"settle_time"`
	ServiceFeeBps  uint16              `json:"service_fee_bps"`
	MinBet         amountView          `json:"min_bet"`
	MaxBet         amountView          `json:"max_bet"`
	TotalMaxBet    amountView          `json:"total_max_bet"`
	Outcomes       []outcomeView       `json:"outcomes"`
	TotalPool      amountView          `json:"total_pool"`
	WinningOutcome *int                `json:"winning_outcome,omitempty"`
	Authority      string              `json:"authority"`
	Custody        string              `json:"custody_account"`

	FinalPriceAClosed  *decimal.Decimal `json:"final_price_a_closed,omitempty"`
	FinalPriceBClosed  *decimal.Decimal `json:"final_price_b_closed,omitempty"`
	FinalPriceASettled *decimal.Decimal `json:"final_price_a_settled,omitempty"`
	FinalPriceBSettled *decimal.Decimal `json:"final_price_b_settled,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Version     uint64     `json:"version"`
}

func viewMarket(m domain.Market) marketView {
	outcomes := make([]outcomeView, len(m.Outcomes))
	for i, label := range m.Outcomes {
		var pool uint64
		if i < len(m.AmountsPerOutcome) {
			pool = m.AmountsPerOutcome[i]
		}
		outcomes[i] = outcomeView{Index: i, Label: label, Pool: viewAmount(pool)}
	}
	return marketView{
		ID:                 m.ID,
		Title:              m.Title,
		Description:        m.Description,
		ImageLink:          m.ImageLink,
		Type:               m.Type,
		Status:             m.Status,
		FeedA:              m.FeedA,
		FeedB:              m.FeedB,
		OpenTime:           m.OpenTime,
		CloseTime:          m.CloseTime,
		SettleTime:         m.SettleTime,
		ServiceFeeBps:      m.ServiceFeeBps,
		MinBet:             viewAmount(m.MinBet),
		MaxBet:             viewAmount(m.MaxBet),
		TotalMaxBet:        viewAmount(m.TotalMaxBet),
		Outcomes:           outcomes,
		TotalPool:          viewAmount(m.TotalPool),
		WinningOutcome:     m.WinningOutcome,
		Authority:          m.Authority,
		Custody:            settlement.CustodyAccount(m.ID),
		FinalPriceAClosed:  m.FinalPriceAClosed,
		FinalPriceBClosed:  m.FinalPriceBClosed,
		FinalPriceASettled: m.FinalPriceASettled,
		FinalPriceBSettled: m.FinalPriceBSettled,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		ClosedAt:           m.ClosedAt,
		SettledAt:          m.SettledAt,
		ConfirmedAt:        m.ConfirmedAt,
		Version:            m.Version,
	}
}

type betView struct {
	MarketID   string       `json:"market_id"`
	Bettor     string       `json:"bettor"`
	BetAccount string       `json:"bet_account,omitempty"`
	Stakes     []amountView `json:"stakes"`
	Total      amountView   `json:"total"`
	Claimed    bool         `json:"claimed"`
	Payout     *amountView  `json:"payout,omitempty"`
	FeePaid    *amountView  `json:"fee_paid,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	ClaimedAt  *time.Time   `json:"claimed_at,omitempty"`
}

func viewBet(b domain.Bet) betView {
	stakes := make([]amountView, len(b.AmountsPerOutcome))
	for i, v := range b.AmountsPerOutcome {
		stakes[i] = viewAmount(v)
	}
	out := betView{
		MarketID:  b.MarketID,
		Bettor:    b.Bettor,
		Stakes:    stakes,
		Total:     viewAmount(b.TotalBetAmount),
		Claimed:   b.Claimed,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
		ClaimedAt: b.ClaimedAt,
	}
	if common.IsHexAddress(b.Bettor) {
		out.BetAccount = crypto.BetAddress(common.HexToAddress(b.Bettor), b.MarketID).Hex()
	}
	if b.Claimed {
		payout, fee := viewAmount(b.Payout), viewAmount(b.FeePaid)
		out.Payout, out.FeePaid = &payout, &fee
	}
	return out
}

func viewBets(bets []domain.Bet) []betView {
	out := make([]betView, len(bets))
	for i, b := range bets {
		out[i] = viewBet(b)
	}
	return out
}
