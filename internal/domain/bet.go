package domain

import "time"

// Bet is one bettor's cumulative stake record against one market. There is
// at most one Bet per (bettor, market) pair.
type Bet struct {
	MarketID          string
	Bettor            string
	AmountsPerOutcome []uint64
	TotalBetAmount    uint64
	Claimed           bool

	// Payout and FeePaid are recorded by a successful claim.
	Payout  uint64
	FeePaid uint64

	CreatedAt time.Time
	UpdatedAt time.Time
	ClaimedAt *time.Time
}

// NewBet returns an empty bet sized for a market with n outcomes.
func NewBet(marketID, bettor string, n int, now time.Time) Bet {
	return Bet{
		MarketID:          marketID,
		Bettor:            bettor,
		AmountsPerOutcome: make([]uint64, n),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a deep copy of the bet.
func (b Bet) Clone() Bet {
	out := b
	out.AmountsPerOutcome = append([]uint64(nil), b.AmountsPerOutcome...)
	out.ClaimedAt = cloneTime(b.ClaimedAt)
	return out
}
