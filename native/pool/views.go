package pool

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/token"
)

// Pool returns a copy of the stored pool without accruing.
func (e *Engine) Pool(id [32]byte) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPool(id)
}

// fresh returns a copy of the pool with interest accrued to now. Views use
// it so they match the mutating path exactly.
func (e *Engine) fresh(id [32]byte) (*Pool, error) {
	p, err := e.Pool(id)
	if err != nil {
		return nil, err
	}
	accrue(p, e.now())
	return p, nil
}

// ViewAccruedInterest returns unpaid interest as of now.
func (e *Engine) ViewAccruedInterest(id [32]byte) (*big.Int, error) {
	p, err := e.fresh(id)
	if err != nil {
		return nil, err
	}
	return p.AccruedInterest, nil
}

// TotalOwed returns outstanding principal plus unpaid interest as of now.
func (e *Engine) TotalOwed(id [32]byte) (*big.Int, error) {
	p, err := e.fresh(id)
	if err != nil {
		return nil, err
	}
	return totalOwed(p), nil
}

func totalOwed(p *Pool) *big.Int {
	return new(big.Int).Add(accountingFor(p.Mode).Outstanding(p), p.AccruedInterest)
}

// FullyRepaid reports whether the pool has been drawn and everything owed
// has since been repaid.
func (e *Engine) FullyRepaid(id [32]byte) (bool, error) {
	p, err := e.fresh(id)
	if err != nil {
		return false, err
	}
	return fullyRepaid(p), nil
}

func fullyRepaid(p *Pool) bool {
	return p.LifetimeDrawn.Sign() > 0 && totalOwed(p).Sign() == 0
}

// Holder returns the claim position of addr. Unknown holders have a zero
// position.
func (e *Engine) Holder(id [32]byte, addr crypto.Address) (*Holder, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.loadPool(id); err != nil {
		return nil, err
	}
	return e.loadHolder(id, addr)
}

// ClaimableInterest returns what ClaimInterest would pay addr now.
func (e *Engine) ClaimableInterest(id [32]byte, addr crypto.Address) (*big.Int, error) {
	p, err := e.Pool(id)
	if err != nil {
		return nil, err
	}
	h, err := e.loadHolder(id, addr)
	if err != nil {
		return nil, err
	}
	return pendingInterest(p, h), nil
}

// Holders lists every address registered as a holder of the pool.
func (e *Engine) Holders(id [32]byte) ([]crypto.Address, error) {
	if e == nil || e.registry == nil {
		return nil, nil
	}
	return e.registry.PoolHolders(id)
}

// PoolsByBorrower lists the pools opened by borrower.
func (e *Engine) PoolsByBorrower(borrower crypto.Address) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.BorrowerPools(borrower)
}

// Details joins the pool with derived figures and asset metadata.
func (e *Engine) Details(id [32]byte) (*Details, error) {
	p, err := e.fresh(id)
	if err != nil {
		return nil, err
	}
	return &Details{
		Pool:            p,
		Outstanding:     accountingFor(p.Mode).Outstanding(p),
		AccruedInterest: new(big.Int).Set(p.AccruedInterest),
		TotalOwed:       totalOwed(p),
		Available:       undrawn(p),
		FullyRepaid:     fullyRepaid(p),
		Asset:           token.SafeMetadata(e.metadata, p.Asset),
	}, nil
}
