// Package ratio implements exact-precision division of large unsigned
// integers into plain decimal strings. Every quorum, approval and
// allocation percentage in the engine routes through this package so that
// boundary comparisons never depend on floating point.
package ratio

import (
	"math/big"
	"strings"
)

var (
	ten         = big.NewInt(10)
	hundred     = big.NewInt(100)
	bpsPerWhole = big.NewInt(10_000)
)

// Ratio divides num by den and formats the quotient as a fixed-point
// decimal string with at most maxFractionDigits fractional digits
// (trailing zeros trimmed). A nil, zero or negative denominator yields
// "0" so callers never need a zero-check branch. A nil or negative
// numerator also yields "0"; vote weights and supplies are unsigned.
//
// The division is performed in a widened integer domain: the numerator is
// scaled by 10^maxFractionDigits before dividing, which keeps small
// ratios (token amounts routinely exceed 2^53) from silently rounding to
// whole numbers. Output never uses grouping separators or exponents, so
// it can be re-parsed.
func Ratio(num, den *big.Int, maxFractionDigits int) string {
	if num == nil || den == nil || den.Sign() <= 0 || num.Sign() < 0 {
		return "0"
	}
	if maxFractionDigits < 0 {
		maxFractionDigits = 0
	}

	scale := new(big.Int).Exp(ten, big.NewInt(int64(maxFractionDigits)), nil)
	scaled := new(big.Int).Mul(num, scale)
	quot := new(big.Int).Quo(scaled, den)

	digits := quot.String()
	if maxFractionDigits == 0 {
		return digits
	}
	if len(digits) <= maxFractionDigits {
		digits = strings.Repeat("0", maxFractionDigits-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-maxFractionDigits]
	frac := strings.TrimRight(digits[len(digits)-maxFractionDigits:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Percent formats part/whole as a percentage string with two fractional
// digits, e.g. Percent(27, 31) == "87.09".
func Percent(part, whole *big.Int) string {
	if part == nil {
		return "0"
	}
	return Ratio(new(big.Int).Mul(part, hundred), whole, 2)
}

// Meets reports whether part/whole >= threshold, where threshold is given
// in basis points (1% == 100 bps). The comparison is exact: it is
// evaluated as part*10000 >= whole*bps in the integer domain, so boundary
// equality counts as met. A zero or negative whole never meets any
// threshold (safe-division contract: the ratio is "0").
func Meets(part, whole *big.Int, thresholdBps uint64) bool {
	if part == nil || whole == nil || whole.Sign() <= 0 || part.Sign() < 0 {
		return false
	}
	lhs := new(big.Int).Mul(part, bpsPerWhole)
	rhs := new(big.Int).Mul(whole, new(big.Int).SetUint64(thresholdBps))
	return lhs.Cmp(rhs) >= 0
}
