package lending

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/token"
)

// Line returns a copy of the stored line without accruing.
func (e *Engine) Line(key [32]byte) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadLine(key)
}

// InterestOwed returns materialised plus pending interest as of now, using the
// same formula as the mutating accrual path.
func (e *Engine) InterestOwed(key [32]byte) (*big.Int, error) {
	line, err := e.Line(key)
	if err != nil {
		return nil, err
	}
	accrue(line, e.now())
	return line.InterestAccrued, nil
}

// Available returns how much principal the borrower may still draw.
func (e *Engine) Available(key [32]byte) (*big.Int, error) {
	line, err := e.Line(key)
	if err != nil {
		return nil, err
	}
	return available(line), nil
}

func available(line *CreditLine) *big.Int {
	remaining := new(big.Int).Sub(line.Allowable, line.Outstanding)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// Details joins the line with fresh interest, availability and asset
// metadata.
func (e *Engine) Details(key [32]byte) (*LineDetails, error) {
	line, err := e.Line(key)
	if err != nil {
		return nil, err
	}
	fresh := line.Clone()
	accrue(fresh, e.now())
	return &LineDetails{
		Key:          key,
		Line:         line,
		InterestOwed: fresh.InterestAccrued,
		Available:    available(line),
		Asset:        token.SafeMetadata(e.metadata, line.Asset),
	}, nil
}

// LinesByLender lists the keys of every line lender has opened.
func (e *Engine) LinesByLender(lender crypto.Address) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.LenderLines(lender)
}

// LinesByBorrower lists the keys of every line extended to borrower.
func (e *Engine) LinesByBorrower(borrower crypto.Address) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.BorrowerLines(borrower)
}
