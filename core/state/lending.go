package state

import (
	"errors"
	"math/big"

	"spotchain/crypto"
	"spotchain/native/lending"
)

var (
	creditLinePrefix  = []byte("lending/line/")
	lenderLinesPrefix = []byte("lending/by-lender/")
	borrowLinesPrefix = []byte("lending/by-borrower/")
	errNegativeAmount = errors.New("state: negative amount")
)

type storedCreditLine struct {
	Lender          [20]byte
	Borrower        [20]byte
	Asset           [20]byte
	TotalBorrowed   *big.Int
	Outstanding     *big.Int
	Allowable       *big.Int
	InterestRate    uint64
	LastAccrual     uint64
	InterestAccrued *big.Int
}

func newStoredCreditLine(line *lending.CreditLine) *storedCreditLine {
	return &storedCreditLine{
		Lender:          line.Lender,
		Borrower:        line.Borrower,
		Asset:           line.Asset,
		TotalBorrowed:   nonNil(line.TotalBorrowed),
		Outstanding:     nonNil(line.Outstanding),
		Allowable:       nonNil(line.Allowable),
		InterestRate:    line.InterestRate,
		LastAccrual:     toUnix(line.LastAccrual),
		InterestAccrued: nonNil(line.InterestAccrued),
	}
}

func (s *storedCreditLine) toCreditLine() *lending.CreditLine {
	return &lending.CreditLine{
		Lender:          crypto.Address(s.Lender),
		Borrower:        crypto.Address(s.Borrower),
		Asset:           crypto.Address(s.Asset),
		TotalBorrowed:   nonNil(s.TotalBorrowed),
		Outstanding:     nonNil(s.Outstanding),
		Allowable:       nonNil(s.Allowable),
		InterestRate:    s.InterestRate,
		LastAccrual:     int64(s.LastAccrual),
		InterestAccrued: nonNil(s.InterestAccrued),
	}
}

// CreditLine loads the line stored under key.
func (m *Manager) CreditLine(key [32]byte) (*lending.CreditLine, bool, error) {
	var stored storedCreditLine
	ok, err := m.getRLP(storageKey(creditLinePrefix, key[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toCreditLine(), true, nil
}

// PutCreditLine stores line under key.
func (m *Manager) PutCreditLine(key [32]byte, line *lending.CreditLine) error {
	if line == nil {
		return errors.New("state: nil credit line")
	}
	return m.putRLP(storageKey(creditLinePrefix, key[:]), newStoredCreditLine(line))
}

// AppendLenderLine indexes key under lender.
func (m *Manager) AppendLenderLine(lender crypto.Address, key [32]byte) error {
	_, err := m.appendUnique(storageKey(lenderLinesPrefix, lender[:]), key[:])
	return err
}

// AppendBorrowerLine indexes key under borrower.
func (m *Manager) AppendBorrowerLine(borrower crypto.Address, key [32]byte) error {
	_, err := m.appendUnique(storageKey(borrowLinesPrefix, borrower[:]), key[:])
	return err
}

// LenderLines lists the lines opened by lender in creation order.
func (m *Manager) LenderLines(lender crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(lenderLinesPrefix, lender[:]))
}

// BorrowerLines lists the lines extended to borrower in creation order.
func (m *Manager) BorrowerLines(borrower crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(borrowLinesPrefix, borrower[:]))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func toUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
