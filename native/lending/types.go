package lending

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/token"
)

// CreditLine is the ledger entry of a single lender-to-borrower line in one
// asset. Amounts are in the asset's base units.
type CreditLine struct {
	// Lender, Borrower and Asset are fixed when the line is first allowed.
	Lender   crypto.Address
	Borrower crypto.Address
	Asset    crypto.Address
	// TotalBorrowed is the lifetime sum of principal advanced and never
	// decreases.
	TotalBorrowed *big.Int
	// Outstanding is the unpaid principal. It never exceeds Allowable right
	// after a borrow.
	Outstanding *big.Int
	// Allowable is the lender-set ceiling on Outstanding.
	Allowable *big.Int
	// InterestRate is the annual rate in parts per thousand.
	InterestRate uint64
	// LastAccrual is the unix time interest was last materialised. Zero means
	// the line carries no debt.
	LastAccrual int64
	// InterestAccrued is unpaid interest, tracked apart from Outstanding.
	InterestAccrued *big.Int
}

// Clone returns a deep copy of the line.
func (l *CreditLine) Clone() *CreditLine {
	if l == nil {
		return nil
	}
	out := *l
	out.TotalBorrowed = cloneBig(l.TotalBorrowed)
	out.Outstanding = cloneBig(l.Outstanding)
	out.Allowable = cloneBig(l.Allowable)
	out.InterestAccrued = cloneBig(l.InterestAccrued)
	return &out
}

// Owed returns outstanding principal plus materialised interest.
func (l *CreditLine) Owed() *big.Int {
	return new(big.Int).Add(cloneBig(l.Outstanding), cloneBig(l.InterestAccrued))
}

func (l *CreditLine) normalize() {
	l.TotalBorrowed = cloneBig(l.TotalBorrowed)
	l.Outstanding = cloneBig(l.Outstanding)
	l.Allowable = cloneBig(l.Allowable)
	l.InterestAccrued = cloneBig(l.InterestAccrued)
}

// LineDetails joins a credit line with derived figures and asset metadata for
// display.
type LineDetails struct {
	Key          [32]byte
	Line         *CreditLine
	InterestOwed *big.Int
	Available    *big.Int
	Asset        token.Metadata
}

// RepayResult reports how a repayment was split.
type RepayResult struct {
	Fee       *big.Int
	Interest  *big.Int
	Principal *big.Int
	Refund    *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
