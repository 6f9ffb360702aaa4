package settlement

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

func validateCreate(a domain.CreateMarketArgs) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case a.ID == "" || len(a.ID) > domain.MaxMarketIDLen:
		return bad("id must be 1..%d bytes", domain.MaxMarketIDLen)
	case len(a.Title) > domain.MaxTitleLen:
		return bad("title exceeds %d bytes", domain.MaxTitleLen)
	case len(a.Description) > domain.MaxDescLen:
		return bad("description exceeds %d bytes", domain.MaxDescLen)
	case len(a.ImageLink) > domain.MaxImageLinkLen:
		return bad("image link exceeds %d bytes", domain.MaxImageLinkLen)
	case !a.Type.Valid():
		return bad("unknown market type %q", a.Type)
	}

	if n := len(a.Outcomes); n < 2 || n > domain.MaxOutcomes {
		return bad("need 2..%d outcomes, got %d", domain.MaxOutcomes, n)
	}
	// Outcomes are addressed by index, so repeated labels are allowed.
	for i, o := range a.Outcomes {
		if o == "" || len(o) > domain.MaxOutcomeLabel {
			return bad("outcome %d label must be 1..%d bytes", i, domain.MaxOutcomeLabel)
		}
	}

	if !a.OpenTime.Before(a.CloseTime) || !a.CloseTime.Before(a.SettleTime) {
		return bad("require open_time < close_time < settle_time")
	}
	if a.ServiceFeeBps > domain.MaxServiceFeeBps {
		return bad("service fee %d bps exceeds %d", a.ServiceFeeBps, domain.MaxServiceFeeBps)
	}
	if a.MinBet > a.MaxBet || a.MaxBet > a.TotalMaxBet {
		return bad("require min_bet <= max_bet <= total_max_bet")
	}
	if a.TotalMaxBet > math.MaxInt64 {
		return bad("total_max_bet exceeds %d", int64(math.MaxInt64))
	}

	feeds := 0
	if a.FeedA != "" {
		feeds++
	}
	if a.FeedB != "" {
		if a.FeedA == "" {
			return bad("feed_b set without feed_a")
		}
		feeds++
	}
	if feeds != 0 && feeds != a.Type.RequiredFeeds() {
		return bad("%s market takes %d feeds, got %d", a.Type, a.Type.RequiredFeeds(), feeds)
	}
	return nil
}

// checkFeeds enforces the market type's feed arity and, once feeds are
// recorded on the market, that the same feeds are supplied again.
func checkFeeds(m domain.Market, feeds []string) error {
	want := m.Type.RequiredFeeds()
	if len(feeds) != want {
		return fmt.Errorf("%w: %s market takes %d feeds, got %d", domain.ErrFeedCountMismatch, m.Type, want, len(feeds))
	}
	for i, f := range feeds {
		if f == "" {
			return fmt.Errorf("%w: feed %d is empty", domain.ErrFeedCountMismatch, i)
		}
	}
	recorded := m.Feeds()
	if len(recorded) == 0 {
		return nil
	}
	for i, f := range feeds {
		if recorded[i] != f {
			return fmt.Errorf("%w: feed %d is %q, market uses %q", domain.ErrFeedMismatch, i, f, recorded[i])
		}
	}
	return nil
}

func feedAt(feeds []string, i int) string {
	if i < len(feeds) {
		return feeds[i]
	}
	return ""
}

func priceAt(samples []domain.PriceSample, i int) *decimal.Decimal {
	if i < len(samples) {
		p := samples[i].Price
		return &p
	}
	return nil
}
