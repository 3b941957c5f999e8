package fees

import "math/big"

// MaxFeeBps is the highest configurable fee rate (100%).
const MaxFeeBps = 10_000

var basisPoints = big.NewInt(10_000)

// Allocation is the split of one incoming payment. Fee + Interest + Principal
// + Refund always equals the gross payment.
type Allocation struct {
	Fee       *big.Int
	Interest  *big.Int
	Principal *big.Int
	Refund    *big.Int
}

// Applied returns the part of the payment that is kept (everything except the
// refund).
func (a Allocation) Applied() *big.Int {
	total := new(big.Int).Add(a.Fee, a.Interest)
	return total.Add(total, a.Principal)
}

// Net returns interest plus principal, the amount owed to the creditor.
func (a Allocation) Net() *big.Int {
	return new(big.Int).Add(a.Interest, a.Principal)
}

// FeeOn returns amount*feeBps/10_000 truncated, capped at amount.
func FeeOn(amount *big.Int, feeBps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, basisPoints)
	if fee.Cmp(amount) > 0 {
		return new(big.Int).Set(amount)
	}
	return fee
}

// Allocate splits payment in strict priority order: the platform fee is taken
// from the gross payment first, then accrued interest is settled, then
// principal. Whatever is left over is returned as Refund, which also absorbs
// any rounding remainder.
func Allocate(payment *big.Int, feeBps uint64, interestOwed, principalOwed *big.Int) Allocation {
	out := Allocation{
		Fee:       big.NewInt(0),
		Interest:  big.NewInt(0),
		Principal: big.NewInt(0),
		Refund:    big.NewInt(0),
	}
	if payment == nil || payment.Sign() <= 0 {
		return out
	}
	out.Fee = FeeOn(payment, feeBps)
	remaining := new(big.Int).Sub(payment, out.Fee)

	if interestOwed != nil && interestOwed.Sign() > 0 {
		out.Interest = minInt(remaining, interestOwed)
		remaining.Sub(remaining, out.Interest)
	}
	if principalOwed != nil && principalOwed.Sign() > 0 {
		out.Principal = minInt(remaining, principalOwed)
		remaining.Sub(remaining, out.Principal)
	}
	out.Refund = remaining
	return out
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
