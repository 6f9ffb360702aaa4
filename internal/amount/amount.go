// Package amount implements fixed-point integer arithmetic for stakes,
// payouts, and basis-point fees. Values are unsigned base units with
// Decimals fractional digits; no floating point is used anywhere.
package amount

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerd/internal/domain"
)

// Decimals is the number of fractional digits in one whole unit.
const Decimals = 9

// One is a single whole unit in base units.
const One uint64 = 1_000_000_000

// BpsDenominator is the basis-point scale.
const BpsDenominator = 10_000

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Add returns a+b or ErrNumericalOverflow.
func Add(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, domain.ErrNumericalOverflow
	}
	return s, nil
}

// MulDiv returns floor(a*b/d) using a 256-bit intermediate product. It fails
// when d is zero or the quotient does not fit in 64 bits.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, fmt.Errorf("amount: divide by zero: %w", domain.ErrNumericalOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return 0, domain.ErrNumericalOverflow
	}
	return z.Uint64(), nil
}

// Split divides a pool into the service fee floor(pool*bps/10000) and the
// distributable remainder.
func Split(pool uint64, bps uint16) (fee, distributable uint64, err error) {
	if bps > BpsDenominator {
		return 0, 0, fmt.Errorf("amount: fee %d bps exceeds %d: %w", bps, BpsDenominator, domain.ErrInvalidConfig)
	}
	fee, err = MulDiv(pool, uint64(bps), BpsDenominator)
	if err != nil {
		return 0, 0, err
	}
	return fee, pool - fee, nil
}

// Share is one claimant's pari-mutuel entitlement.
type Share struct {
	Payout uint64
	Fee    uint64
}

// Claim computes a winner's payout floor(D*stake/winning) and the
// proportional fee floor(F*stake/winning) for a pool of the given size.
// stake must not exceed winning.
func Claim(pool uint64, bps uint16, stake, winning uint64) (Share, error) {
	if winning == 0 || stake > winning {
		return Share{}, fmt.Errorf("amount: stake %d of winning %d: %w", stake, winning, domain.ErrNumericalOverflow)
	}
	fee, dist, err := Split(pool, bps)
	if err != nil {
		return Share{}, err
	}
	payout, err := MulDiv(dist, stake, winning)
	if err != nil {
		return Share{}, err
	}
	feeShare, err := MulDiv(fee, stake, winning)
	if err != nil {
		return Share{}, err
	}
	return Share{Payout: payout, Fee: feeShare}, nil
}

// Parse converts a decimal string in whole units ("0.1") into base units.
// More than Decimals fractional digits, negative values, and values beyond
// 64 bits are rejected.
func Parse(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a whole-unit decimal into base units.
func FromDecimal(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: negative value %s", d)
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount: %s has more than %d decimals", d, Decimals)
	}
	if shifted.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("amount: %s: %w", d, domain.ErrNumericalOverflow)
	}
	return shifted.BigInt().Uint64(), nil
}

// ToDecimal converts base units into a whole-unit decimal.
func ToDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -Decimals)
}

// Format renders base units as a whole-unit decimal string without trailing
// zeros, e.g. 190000000 -> "0.19".
func Format(v uint64) string {
	return ToDecimal(v).String()
}
