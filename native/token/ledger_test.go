package token

import (
	"errors"
	"math/big"
	"testing"

	"spotchain/crypto"
)

type mockLedgerState struct {
	meta       map[crypto.Address]*Metadata
	balances   map[[2]crypto.Address]*big.Int
	allowances map[[3]crypto.Address]*big.Int
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		meta:       make(map[crypto.Address]*Metadata),
		balances:   make(map[[2]crypto.Address]*big.Int),
		allowances: make(map[[3]crypto.Address]*big.Int),
	}
}

func (m *mockLedgerState) TokenMetadata(asset crypto.Address) (*Metadata, bool, error) {
	meta, ok := m.meta[asset]
	return meta, ok, nil
}

func (m *mockLedgerState) PutTokenMetadata(asset crypto.Address, meta *Metadata) error {
	m.meta[asset] = meta
	return nil
}

func (m *mockLedgerState) TokenBalance(asset, holder crypto.Address) (*big.Int, error) {
	if v, ok := m.balances[[2]crypto.Address{asset, holder}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedgerState) PutTokenBalance(asset, holder crypto.Address, amount *big.Int) error {
	m.balances[[2]crypto.Address{asset, holder}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedgerState) TokenAllowance(asset, owner, spender crypto.Address) (*big.Int, error) {
	if v, ok := m.allowances[[3]crypto.Address{asset, owner, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedgerState) PutTokenAllowance(asset, owner, spender crypto.Address, amount *big.Int) error {
	m.allowances[[3]crypto.Address{asset, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func addr(b byte) crypto.Address {
	return crypto.BytesToAddress([]byte{b})
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	asset, owner, spender, to := addr(1), addr(2), addr(3), addr(4)
	ledger := NewLedger(newMockLedgerState())

	if err := ledger.Mint(asset, owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(asset, spender, owner, to, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := ledger.Approve(asset, owner, spender, big.NewInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(asset, spender, owner, to, big.NewInt(40)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}

	remaining, _ := ledger.Allowance(asset, owner, spender)
	if remaining.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected allowance 20, got %s", remaining)
	}
	ownerBal, _ := ledger.BalanceOf(asset, owner)
	toBal, _ := ledger.BalanceOf(asset, to)
	if ownerBal.Cmp(big.NewInt(60)) != 0 || toBal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected balances owner=%s to=%s", ownerBal, toBal)
	}
}

func TestTransferRejectsOverdraw(t *testing.T) {
	asset, from, to := addr(1), addr(2), addr(3)
	ledger := NewLedger(newMockLedgerState())
	if err := ledger.Mint(asset, from, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(asset, from, to, big.NewInt(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(asset, crypto.ZeroAddress, to, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := ledger.Transfer(asset, from, to, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should be a no-op: %v", err)
	}
}

func TestTransferHookFailurePropagates(t *testing.T) {
	asset, from, to := addr(1), addr(2), addr(3)
	ledger := NewLedger(newMockLedgerState())
	_ = ledger.Mint(asset, from, big.NewInt(5))
	boom := errors.New("receiver rejected")
	ledger.SetTransferHook(func(_, _, _ crypto.Address, _ *big.Int) error { return boom })
	if err := ledger.Transfer(asset, from, to, big.NewInt(1)); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

type brokenMetadata struct{}

func (brokenMetadata) Decimals(crypto.Address) (uint8, error) { panic("no decimals()") }
func (brokenMetadata) Name(crypto.Address) (string, error) { return "", errors.New("reverted") }
func (brokenMetadata) Symbol(crypto.Address) (string, error) { return "  ", nil }

func TestSafeMetadataFallsBack(t *testing.T) {
	meta := SafeMetadata(brokenMetadata{}, addr(9))
	if meta.Decimals != DefaultDecimals || meta.Name != DefaultName || meta.Symbol != DefaultSymbol {
		t.Fatalf("unexpected fallback metadata %+v", meta)
	}
	if got := SafeMetadata(nil, addr(9)); got.Decimals != 18 || got.Name != "Unknown" {
		t.Fatalf("nil source must use defaults, got %+v", got)
	}
}

func TestSafeMetadataUsesRegisteredValues(t *testing.T) {
	asset := addr(7)
	ledger := NewLedger(newMockLedgerState())
	if err := ledger.RegisterToken(asset, "US Dollar", "usdx", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.RegisterToken(asset, "again", "X", 6); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	meta := SafeMetadata(ledger, asset)
	if meta.Decimals != 6 || meta.Symbol != "USDX" || meta.Name != "US Dollar" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if unknown := SafeMetadata(ledger, addr(8)); unknown.Decimals != 18 {
		t.Fatalf("unregistered asset must default to 18 decimals, got %d", unknown.Decimals)
	}
}
