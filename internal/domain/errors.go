package domain

import "errors"

// ErrorKind groups failures by cause so the transport layer can map them to
// status codes without enumerating every sentinel.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindState         ErrorKind = "state"
	KindLimit         ErrorKind = "limit"
	KindAuthorization ErrorKind = "authorization"
	KindIntegrity     ErrorKind = "integrity"
	KindNotFound      ErrorKind = "not_found"
	KindUnavailable   ErrorKind = "unavailable"
	KindInternal      ErrorKind = "internal"
)

// Error is a sentinel domain error carrying a stable machine-readable code.
type Error struct {
	Kind ErrorKind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	// Configuration
	ErrInvalidConfig   = newError(KindConfiguration, "invalid_config", "invalid market configuration")
	ErrDuplicateMarket = newError(KindConfiguration, "duplicate_market", "market already exists")

	// State
	ErrInvalidState       = newError(KindState, "invalid_state", "operation not allowed in current market state")
	ErrTooEarly           = newError(KindState, "too_early", "transition time not reached")
	ErrAlreadySet         = newError(KindState, "already_set", "winning outcome already set")
	ErrMarketNotOpen      = newError(KindState, "market_not_open", "market is not open for betting")
	ErrMarketNotConfirmed = newError(KindState, "market_not_confirmed", "market is not confirmed")
	ErrNoWinnerChosen     = newError(KindState, "no_winner_chosen", "no winning outcome recorded")

	// Limit
	ErrBetTooSmall       = newError(KindLimit, "bet_too_small", "bet amount below minimum")
	ErrBetLimitExceeded  = newError(KindLimit, "bet_limit_exceeded", "cumulative bet exceeds maximum")
	ErrPoolCapExceeded   = newError(KindLimit, "pool_cap_exceeded", "market pool cap exceeded")
	ErrOutcomeOutOfRange = newError(KindLimit, "outcome_out_of_range", "winning outcome index out of range")
	ErrInvalidOutcome    = newError(KindLimit, "invalid_outcome", "outcome index out of range")
	ErrInsufficientFunds = newError(KindLimit, "insufficient_funds", "insufficient balance")

	// Authorization
	ErrUnauthorized = newError(KindAuthorization, "unauthorized", "unauthorized")

	// Integrity
	ErrFeedCountMismatch   = newError(KindIntegrity, "feed_count_mismatch", "feed count does not match market type")
	ErrFeedMismatch        = newError(KindIntegrity, "feed_mismatch", "feed differs from the one recorded on the market")
	ErrNothingToClaim      = newError(KindIntegrity, "nothing_to_claim", "no stake on the winning outcome")
	ErrAlreadyClaimed      = newError(KindIntegrity, "already_claimed", "reward already claimed")
	ErrNoBetFound          = newError(KindIntegrity, "no_bet_found", "no bet found for bettor")
	ErrOutcomeNotDerivable = newError(KindIntegrity, "outcome_not_derivable", "winning outcome cannot be derived from captured prices")
	ErrNumericalOverflow   = newError(KindIntegrity, "numerical_overflow", "numerical overflow")

	// Collaborators
	ErrNotFound        = newError(KindNotFound, "not_found", "not found")
	ErrFeedUnavailable = newError(KindUnavailable, "feed_unavailable", "price feed unavailable")
	ErrStaleFeed       = newError(KindUnavailable, "stale_feed", "price feed sample is stale")
	ErrUnavailable     = newError(KindUnavailable, "unavailable", "backing service not configured")
	ErrRateLimited     = newError(KindLimit, "rate_limited", "rate limited")
	ErrLockHeld        = newError(KindState, "lock_held", "lock already held")
)

// KindOf returns the kind of the first domain error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of the first domain error in err's chain,
// or "internal".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}
