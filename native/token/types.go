package token

import (
	"errors"
	"math/big"

	"spotchain/crypto"
)

var (
	ErrZeroAddress           = errors.New("token ledger: zero address")
	ErrInvalidAmount         = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
	ErrUnknownToken          = errors.New("token ledger: token not registered")
	ErrTokenExists           = errors.New("token ledger: token already registered")
)

// Metadata describes a registered asset.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Transferer is the asset movement collaborator consumed by the settlement
// engines. Every call may fail and callers must abort on error.
type Transferer interface {
	Transfer(asset, from, to crypto.Address, amount *big.Int) error
	TransferFrom(asset, spender, from, to crypto.Address, amount *big.Int) error
	BalanceOf(asset, holder crypto.Address) (*big.Int, error)
	Allowance(asset, owner, spender crypto.Address) (*big.Int, error)
}

// MetadataSource exposes per-asset metadata. Implementations may fail or be
// absent for an asset; wrap lookups with SafeMetadata.
type MetadataSource interface {
	Decimals(asset crypto.Address) (uint8, error)
	Name(asset crypto.Address) (string, error)
	Symbol(asset crypto.Address) (string, error)
}

// TransferHook observes every completed balance movement. Returning an error
// fails the enclosing transfer.
type TransferHook func(asset, from, to crypto.Address, amount *big.Int) error
