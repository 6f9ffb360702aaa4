package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxOutcomes caps the number of outcome labels a market may carry.
const MaxOutcomes = 10

// Display metadata limits.
const (
	MaxMarketIDLen   = 32
	MaxTitleLen      = 100
	MaxDescLen       = 500
	MaxImageLinkLen  = 100
	MaxOutcomeLabel  = 64
	MaxServiceFeeBps = 10_000
)

// MarketStatus represents the lifecycle state of a market. Transitions are
// strictly forward: opened -> closed -> settled -> confirmed.
type MarketStatus string

const (
	MarketStatusOpened    MarketStatus = "opened"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusSettled   MarketStatus = "settled"
	MarketStatusConfirmed MarketStatus = "confirmed"
)

// MarketType selects how many price feeds a market samples at close and
// settle.
type MarketType string

const (
	MarketTypeHilo       MarketType = "hilo"
	MarketTypeTokenFight MarketType = "token_fight"
	MarketTypeCustom     MarketType = "custom"
)

// RequiredFeeds returns the exact feed arity for the market type, or -1 for
// an unknown type.
func (t MarketType) RequiredFeeds() int {
	switch t {
	case MarketTypeHilo:
		return 1
	case MarketTypeTokenFight:
		return 2
	case MarketTypeCustom:
		return 0
	default:
		return -1
	}
}

// Valid reports whether t is one of the known market types.
func (t MarketType) Valid() bool { return t.RequiredFeeds() >= 0 }

// FeedDriven reports whether the market type samples external prices.
func (t MarketType) FeedDriven() bool { return t.RequiredFeeds() > 0 }

// Market is a single wagering event with fixed outcomes, timing, and pooled
// funds. Amounts are integer base units (see package amount).
type Market struct {
	ID          string
	Title       string
	Description string
	ImageLink   string
	Type        MarketType

	// FeedA and FeedB identify the price feeds. They may be fixed at
	// creation; otherwise they are recorded by the close transition.
	FeedA string
	FeedB string

	OpenTime   time.Time
	CloseTime  time.Time
	SettleTime time.Time

	ServiceFeeBps uint16
	MinBet        uint64
	MaxBet        uint64
	TotalMaxBet   uint64

	Outcomes          []string
	AmountsPerOutcome []uint64
	TotalPool         uint64

	Status MarketStatus

	FinalPriceAClosed  *decimal.Decimal
	FinalPriceBClosed  *decimal.Decimal
	FinalPriceASettled *decimal.Decimal
	FinalPriceBSettled *decimal.Decimal

	WinningOutcome *int
	Authority      string

	CreatedAt time.Time
	UpdatedAt time.Time
	// Version starts at 1 and increases with every committed update.
	Version uint64

	ClosedAt    *time.Time
	SettledAt   *time.Time
	ConfirmedAt *time.Time
}

// Feeds returns the feed identifiers recorded on the market, in order.
func (m Market) Feeds() []string {
	var out []string
	if m.FeedA != "" {
		out = append(out, m.FeedA)
	}
	if m.FeedB != "" {
		out = append(out, m.FeedB)
	}
	return out
}

// WinningStake returns the total staked on the winning outcome, or zero when
// no winner has been chosen.
func (m Market) WinningStake() uint64 {
	if m.WinningOutcome == nil {
		return 0
	}
	return m.AmountsPerOutcome[*m.WinningOutcome]
}

// Clone returns a deep copy so callers can mutate slices and pointers
// without aliasing the original.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]string(nil), m.Outcomes...)
	out.AmountsPerOutcome = append([]uint64(nil), m.AmountsPerOutcome...)
	out.FinalPriceAClosed = cloneDecimal(m.FinalPriceAClosed)
	out.FinalPriceBClosed = cloneDecimal(m.FinalPriceBClosed)
	out.FinalPriceASettled = cloneDecimal(m.FinalPriceASettled)
	out.FinalPriceBSettled = cloneDecimal(m.FinalPriceBSettled)
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		out.WinningOutcome = &w
	}
	out.ClosedAt = cloneTime(m.ClosedAt)
	out.SettledAt = cloneTime(m.SettledAt)
	out.ConfirmedAt = cloneTime(m.ConfirmedAt)
	return out
}

// CreateMarketArgs is the caller-supplied configuration for a new market.
type CreateMarketArgs struct {
	ID            string
	Title         string
	Description   string
	ImageLink     string
	Type          MarketType
	FeedA         string
	FeedB         string
	OpenTime      time.Time
	CloseTime     time.Time
	SettleTime    time.Time
	ServiceFeeBps uint16
	MinBet        uint64
	MaxBet        uint64
	TotalMaxBet   uint64
	Outcomes      []string
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
