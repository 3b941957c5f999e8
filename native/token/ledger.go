package token

import (
	"fmt"
	"math/big"
	"strings"

	"spotchain/crypto"
)

type ledgerState interface {
	TokenMetadata(asset crypto.Address) (*Metadata, bool, error)
	PutTokenMetadata(asset crypto.Address, meta *Metadata) error
	TokenBalance(asset, holder crypto.Address) (*big.Int, error)
	PutTokenBalance(asset, holder crypto.Address, amount *big.Int) error
	TokenAllowance(asset, owner, spender crypto.Address) (*big.Int, error)
	PutTokenAllowance(asset, owner, spender crypto.Address, amount *big.Int) error
}

// Ledger is a state-backed fungible token ledger with ERC-20 style balances
// and allowances keyed by asset address. Balances are kept for any asset;
// metadata exists only for registered ones.
type Ledger struct {
	state ledgerState
	hook  TransferHook
}

// NewLedger returns a ledger over the provided state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// SetTransferHook installs a callback invoked after each balance movement.
// Passing nil removes it.
func (l *Ledger) SetTransferHook(hook TransferHook) { l.hook = hook }

// RegisterToken records metadata for asset.
func (l *Ledger) RegisterToken(asset crypto.Address, name, symbol string, decimals uint8) error {
	if asset.IsZero() {
		return ErrZeroAddress
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("token ledger: name and symbol must not be empty")
	}
	if _, ok, err := l.state.TokenMetadata(asset); err != nil {
		return err
	} else if ok {
		return ErrTokenExists
	}
	return l.state.PutTokenMetadata(asset, &Metadata{
		Name:     strings.TrimSpace(name),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Decimals: decimals,
	})
}

func (l *Ledger) metadata(asset crypto.Address) (*Metadata, error) {
	meta, ok, err := l.state.TokenMetadata(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownToken
	}
	return meta, nil
}

// Decimals implements MetadataSource.
func (l *Ledger) Decimals(asset crypto.Address) (uint8, error) {
	meta, err := l.metadata(asset)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// Name implements MetadataSource.
func (l *Ledger) Name(asset crypto.Address) (string, error) {
	meta, err := l.metadata(asset)
	if err != nil {
		return "", err
	}
	return meta.Name, nil
}

// Symbol implements MetadataSource.
func (l *Ledger) Symbol(asset crypto.Address) (string, error) {
	meta, err := l.metadata(asset)
	if err != nil {
		return "", err
	}
	return meta.Symbol, nil
}

// BalanceOf implements Transferer.
func (l *Ledger) BalanceOf(asset, holder crypto.Address) (*big.Int, error) {
	return l.state.TokenBalance(asset, holder)
}

// Allowance implements Transferer.
func (l *Ledger) Allowance(asset, owner, spender crypto.Address) (*big.Int, error) {
	return l.state.TokenAllowance(asset, owner, spender)
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(asset, owner, spender crypto.Address, amount *big.Int) error {
	if asset.IsZero() || owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.PutTokenAllowance(asset, owner, spender, new(big.Int).Set(amount))
}

// Mint credits amount of asset to holder.
func (l *Ledger) Mint(asset, holder crypto.Address, amount *big.Int) error {
	if asset.IsZero() || holder.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.TokenBalance(asset, holder)
	if err != nil {
		return err
	}
	return l.state.PutTokenBalance(asset, holder, new(big.Int).Add(balance, amount))
}

// Transfer implements Transferer. A zero amount is a no-op.
func (l *Ledger) Transfer(asset, from, to crypto.Address, amount *big.Int) error {
	if asset.IsZero() || from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	return l.move(asset, from, to, amount)
}

// TransferFrom implements Transferer. The spender's allowance over from is
// consumed before the balances move.
func (l *Ledger) TransferFrom(asset, spender, from, to crypto.Address, amount *big.Int) error {
	if asset.IsZero() || spender.IsZero() || from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowance, err := l.state.TokenAllowance(asset, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.state.PutTokenAllowance(asset, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.move(asset, from, to, amount)
}

func (l *Ledger) move(asset, from, to crypto.Address, amount *big.Int) error {
	fromBalance, err := l.state.TokenBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.PutTokenBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := l.state.TokenBalance(asset, to)
	if err != nil {
		return err
	}
	if err := l.state.PutTokenBalance(asset, to, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	if l.hook != nil {
		return l.hook(asset, from, to, new(big.Int).Set(amount))
	}
	return nil
}
