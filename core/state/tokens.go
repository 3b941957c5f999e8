package state

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/token"
)

var (
	tokenMetaPrefix      = []byte("token/meta/")
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
)

type storedTokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// TokenMetadata returns the registered metadata of asset.
func (m *Manager) TokenMetadata(asset crypto.Address) (*token.Metadata, bool, error) {
	var stored storedTokenMetadata
	ok, err := m.getRLP(storageKey(tokenMetaPrefix, asset[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &token.Metadata{Name: stored.Name, Symbol: stored.Symbol, Decimals: stored.Decimals}, true, nil
}

// PutTokenMetadata stores metadata for asset.
func (m *Manager) PutTokenMetadata(asset crypto.Address, meta *token.Metadata) error {
	return m.putRLP(storageKey(tokenMetaPrefix, asset[:]), &storedTokenMetadata{
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	})
}

// TokenBalance returns holder's balance of asset, zero when unset.
func (m *Manager) TokenBalance(asset, holder crypto.Address) (*big.Int, error) {
	return m.amount(storageKey(tokenBalancePrefix, asset[:], holder[:]))
}

// PutTokenBalance stores holder's balance of asset.
func (m *Manager) PutTokenBalance(asset, holder crypto.Address, amount *big.Int) error {
	return m.putAmount(storageKey(tokenBalancePrefix, asset[:], holder[:]), amount)
}

// TokenAllowance returns what spender may move from owner's asset balance.
func (m *Manager) TokenAllowance(asset, owner, spender crypto.Address) (*big.Int, error) {
	return m.amount(storageKey(tokenAllowancePrefix, asset[:], owner[:], spender[:]))
}

// PutTokenAllowance stores the allowance of spender over owner's asset.
func (m *Manager) PutTokenAllowance(asset, owner, spender crypto.Address, amount *big.Int) error {
	return m.putAmount(storageKey(tokenAllowancePrefix, asset[:], owner[:], spender[:]), amount)
}

func (m *Manager) amount(key []byte) (*big.Int, error) {
	out := new(big.Int)
	ok, err := m.getRLP(key, out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return out, nil
}

func (m *Manager) putAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		m.remove(key)
		return nil
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	return m.putRLP(key, amount)
}
