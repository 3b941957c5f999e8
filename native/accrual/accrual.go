// Package accrual holds the linear, time-proportional accrual formulas shared
// by the credit-line, stream and pooled-loan engines. Every function is pure,
// multiplies before dividing and truncates toward zero.
package accrual

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// SecondsPerYear is the 365-day year used to annualise rates.
const SecondsPerYear = 31_536_000

// Rate denominators. Credit lines quote per-mille, pools quote basis points.
const (
	PerMille    = 1_000
	BasisPoints = 10_000
)

// ErrAmountOverflow signals a value outside the 256-bit ledger width.
var ErrAmountOverflow = errors.New("accrual: amount exceeds 256 bits")

// Interest returns principal*rate*elapsed / (secondsPerYear*denominator).
// It returns zero when any factor is zero or negative.
func Interest(principal *big.Int, rate uint64, elapsed uint64, secondsPerYear uint64, denominator uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rate == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	if secondsPerYear == 0 || denominator == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(principal, new(big.Int).SetUint64(rate))
	numerator.Mul(numerator, new(big.Int).SetUint64(elapsed))
	divisor := new(big.Int).Mul(new(big.Int).SetUint64(secondsPerYear), new(big.Int).SetUint64(denominator))
	return numerator.Quo(numerator, divisor)
}

// Unlocked returns allowable*elapsed/window, the linear share of an allowance
// unlocked after elapsed seconds. A zero window unlocks nothing.
func Unlocked(allowable *big.Int, elapsed uint64, window uint64) *big.Int {
	if allowable == nil || allowable.Sign() <= 0 || elapsed == 0 || window == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(allowable, new(big.Int).SetUint64(elapsed))
	return numerator.Quo(numerator, new(big.Int).SetUint64(window))
}

// Elapsed returns now-since for unix timestamps, clamping to zero when the
// clock has not advanced.
func Elapsed(since, now int64) uint64 {
	if now <= since {
		return 0
	}
	return uint64(now - since)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// FitsUint256 reports whether v is a non-negative value representable in 256
// bits.
func FitsUint256(v *big.Int) bool {
	if v == nil {
		return true
	}
	if v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}

// CheckWidth returns ErrAmountOverflow when any value does not fit the ledger
// width.
func CheckWidth(values ...*big.Int) error {
	for _, v := range values {
		if !FitsUint256(v) {
			return ErrAmountOverflow
		}
	}
	return nil
}

// Pow10 returns 10^n.
func Pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
