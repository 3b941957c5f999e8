package state

import (
	"errors"
	"math/big"

	"spotchain/crypto"
	"spotchain/native/pool"
)

var (
	poolPrefix          = []byte("pool/entry/")
	poolNoncePrefix     = []byte("pool/nonce/")
	poolHolderPrefix    = []byte("pool/holder/")
	poolHoldersPrefix   = []byte("pool/holders/")
	borrowerPoolsPrefix = []byte("pool/by-borrower/")
	holderPoolsPrefix   = []byte("pool/by-holder/")
)

type storedPool struct {
	ID                           [32]byte
	Asset                        [20]byte
	Borrower                     [20]byte
	Custody                      [20]byte
	Goal                         *big.Int
	InterestRateBps              uint64
	Mode                         uint8
	AssetDecimals                uint8
	CreatedAt                    uint64
	TotalFunded                  *big.Int
	TotalDrawnDown               *big.Int
	LifetimeDrawn                *big.Int
	RepaymentsOfPrincipal        *big.Int
	InterestRepaymentsCumulative *big.Int
	AccruedInterest              *big.Int
	TotalRedeemedPrincipal       *big.Int
	TotalSupply                  *big.Int
	LastAccrual                  uint64
}

type storedHolder struct {
	Balance           *big.Int
	LastInterestIndex *big.Int
}

// Pool loads the pool with the given id.
func (m *Manager) Pool(id [32]byte) (*pool.Pool, bool, error) {
	var s storedPool
	ok, err := m.getRLP(storageKey(poolPrefix, id[:]), &s)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pool.Pool{
		ID:                           s.ID,
		Asset:                        crypto.Address(s.Asset),
		Borrower:                     crypto.Address(s.Borrower),
		Custody:                      crypto.Address(s.Custody),
		Goal:                         nonNil(s.Goal),
		InterestRateBps:              s.InterestRateBps,
		Mode:                         pool.Mode(s.Mode),
		AssetDecimals:                s.AssetDecimals,
		CreatedAt:                    int64(s.CreatedAt),
		TotalFunded:                  nonNil(s.TotalFunded),
		TotalDrawnDown:               nonNil(s.TotalDrawnDown),
		LifetimeDrawn:                nonNil(s.LifetimeDrawn),
		RepaymentsOfPrincipal:        nonNil(s.RepaymentsOfPrincipal),
		InterestRepaymentsCumulative: nonNil(s.InterestRepaymentsCumulative),
		AccruedInterest:              nonNil(s.AccruedInterest),
		TotalRedeemedPrincipal:       nonNil(s.TotalRedeemedPrincipal),
		TotalSupply:                  nonNil(s.TotalSupply),
		LastAccrual:                  int64(s.LastAccrual),
	}, true, nil
}

// PutPool stores p under its id.
func (m *Manager) PutPool(p *pool.Pool) error {
	if p == nil {
		return errors.New("state: nil pool")
	}
	return m.putRLP(storageKey(poolPrefix, p.ID[:]), &storedPool{
		ID:                           p.ID,
		Asset:                        p.Asset,
		Borrower:                     p.Borrower,
		Custody:                      p.Custody,
		Goal:                         nonNil(p.Goal),
		InterestRateBps:              p.InterestRateBps,
		Mode:                         uint8(p.Mode),
		AssetDecimals:                p.AssetDecimals,
		CreatedAt:                    toUnix(p.CreatedAt),
		TotalFunded:                  nonNil(p.TotalFunded),
		TotalDrawnDown:               nonNil(p.TotalDrawnDown),
		LifetimeDrawn:                nonNil(p.LifetimeDrawn),
		RepaymentsOfPrincipal:        nonNil(p.RepaymentsOfPrincipal),
		InterestRepaymentsCumulative: nonNil(p.InterestRepaymentsCumulative),
		AccruedInterest:              nonNil(p.AccruedInterest),
		TotalRedeemedPrincipal:       nonNil(p.TotalRedeemedPrincipal),
		TotalSupply:                  nonNil(p.TotalSupply),
		LastAccrual:                  toUnix(p.LastAccrual),
	})
}

// PoolNonce returns the number of pools borrower has opened.
func (m *Manager) PoolNonce(borrower crypto.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.getRLP(storageKey(poolNoncePrefix, borrower[:]), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// PutPoolNonce stores borrower's pool counter.
func (m *Manager) PutPoolNonce(borrower crypto.Address, nonce uint64) error {
	return m.putRLP(storageKey(poolNoncePrefix, borrower[:]), nonce)
}

// PoolHolder loads holder's claim position in pool id.
func (m *Manager) PoolHolder(id [32]byte, holder crypto.Address) (*pool.Holder, bool, error) {
	var s storedHolder
	ok, err := m.getRLP(storageKey(poolHolderPrefix, id[:], holder[:]), &s)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pool.Holder{Balance: nonNil(s.Balance), LastInterestIndex: nonNil(s.LastInterestIndex)}, true, nil
}

// PutPoolHolder stores holder's claim position in pool id.
func (m *Manager) PutPoolHolder(id [32]byte, holder crypto.Address, h *pool.Holder) error {
	if h == nil {
		return errors.New("state: nil pool holder")
	}
	return m.putRLP(storageKey(poolHolderPrefix, id[:], holder[:]), &storedHolder{
		Balance:           nonNil(h.Balance),
		LastInterestIndex: nonNil(h.LastInterestIndex),
	})
}

// RegisterHolder records holder in the pool's holder list and the pool in
// the holder's pool list. Repeated registrations are ignored; the boolean
// reports whether holder was new.
func (m *Manager) RegisterHolder(id [32]byte, holder crypto.Address) (bool, error) {
	added, err := m.appendUnique(storageKey(poolHoldersPrefix, id[:]), holder[:])
	if err != nil || !added {
		return added, err
	}
	if _, err := m.appendUnique(storageKey(holderPoolsPrefix, holder[:]), id[:]); err != nil {
		return false, err
	}
	return true, nil
}

// PoolHolders lists registered holders of pool id in registration order.
func (m *Manager) PoolHolders(id [32]byte) ([]crypto.Address, error) {
	raw, err := m.list(storageKey(poolHoldersPrefix, id[:]))
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, item := range raw {
		addr, err := crypto.NewAddress(item)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// HolderPools lists the pools holder has been registered in.
func (m *Manager) HolderPools(holder crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(holderPoolsPrefix, holder[:]))
}

// AppendBorrowerPool indexes pool id under borrower.
func (m *Manager) AppendBorrowerPool(borrower crypto.Address, id [32]byte) error {
	_, err := m.appendUnique(storageKey(borrowerPoolsPrefix, borrower[:]), id[:])
	return err
}

// BorrowerPools lists the pools opened by borrower.
func (m *Manager) BorrowerPools(borrower crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(borrowerPoolsPrefix, borrower[:]))
}
