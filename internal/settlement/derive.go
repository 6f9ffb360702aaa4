package settlement

import (
	"fmt"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Outcome indices used by feed-driven market types.
const (
	// HiloUp wins when the settled price is strictly above the closed price.
	HiloUp = 0
	// HiloDown wins otherwise.
	HiloDown = 1
	// FightA wins when feed A gained strictly more than feed B, relative to
	// their closed prices.
	FightA = 0
	// FightB wins when feed B gained strictly more.
	FightB = 1
)

// DeriveOutcome computes the winning outcome of a feed-driven market from
// its captured closed and settled prices.
func DeriveOutcome(m domain.Market) (int, error) {
	switch m.Type {
	case domain.MarketTypeHilo:
		if m.FinalPriceAClosed == nil || m.FinalPriceASettled == nil {
			return 0, fmt.Errorf("%w: prices not captured", domain.ErrOutcomeNotDerivable)
		}
		if m.FinalPriceASettled.GreaterThan(*m.FinalPriceAClosed) {
			return HiloUp, nil
		}
		return HiloDown, nil

	case domain.MarketTypeTokenFight:
		ca, sa := m.FinalPriceAClosed, m.FinalPriceASettled
		cb, sb := m.FinalPriceBClosed, m.FinalPriceBSettled
		if ca == nil || sa == nil || cb == nil || sb == nil {
			return 0, fmt.Errorf("%w: prices not captured", domain.ErrOutcomeNotDerivable)
		}
		if !ca.IsPositive() || !cb.IsPositive() {
			return 0, fmt.Errorf("%w: non-positive closed price", domain.ErrOutcomeNotDerivable)
		}
		// sa/ca versus sb/cb, cross-multiplied to stay exact.
		gainA := sa.Mul(*cb)
		gainB := sb.Mul(*ca)
		switch gainA.Cmp(gainB) {
		case 1:
			return FightA, nil
		case -1:
			return FightB, nil
		default:
			return 0, fmt.Errorf("%w: feeds moved equally", domain.ErrOutcomeNotDerivable)
		}

	default:
		return 0, fmt.Errorf("%w: %s markets are resolved manually", domain.ErrOutcomeNotDerivable, m.Type)
	}
}
