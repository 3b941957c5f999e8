package pool

import (
	"fmt"
	"math/big"
	"strings"

	"spotchain/crypto"
	"spotchain/native/token"
)

// ClaimDecimals is the fixed precision of claim tokens regardless of the
// pooled asset.
const ClaimDecimals = 18

// Mode selects how repaid principal is accounted. It is fixed at creation.
type Mode uint8

const (
	// ModeFlexible treats TotalDrawnDown as the outstanding principal and
	// reduces it in place on repayment. Repaid principal becomes undrawn
	// again and can be redrawn or unfunded.
	ModeFlexible Mode = 1
	// ModeSeparate accumulates repaid principal in RepaymentsOfPrincipal;
	// outstanding is TotalDrawnDown minus repayments and holders redeem the
	// repaid principal pro rata.
	ModeSeparate Mode = 2
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeFlexible || m == ModeSeparate }

// ParseMode maps a mode name to its Mode. An empty name selects
// ModeFlexible.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "flexible":
		return ModeFlexible, nil
	case "separate":
		return ModeSeparate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, name)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeFlexible:
		return "flexible"
	case ModeSeparate:
		return "separate"
	default:
		return "unknown"
	}
}

// Pool is the single shared loan funded by many holders and drawn by one
// borrower.
type Pool struct {
	ID              [32]byte
	Asset           crypto.Address
	Borrower        crypto.Address
	Custody         crypto.Address
	Goal            *big.Int
	InterestRateBps uint64
	Mode            Mode
	AssetDecimals   uint8
	CreatedAt       int64

	TotalFunded    *big.Int
	TotalDrawnDown *big.Int
	// LifetimeDrawn never decreases, unlike TotalDrawnDown in flexible mode.
	LifetimeDrawn         *big.Int
	RepaymentsOfPrincipal *big.Int
	// InterestRepaymentsCumulative is the global distribution index: the
	// lifetime interest repaid.
	InterestRepaymentsCumulative *big.Int
	AccruedInterest              *big.Int
	TotalRedeemedPrincipal       *big.Int
	TotalSupply                  *big.Int
	LastAccrual                  int64
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	out := *p
	out.normalize()
	return &out
}

func (p *Pool) normalize() {
	p.Goal = cloneBig(p.Goal)
	p.TotalFunded = cloneBig(p.TotalFunded)
	p.TotalDrawnDown = cloneBig(p.TotalDrawnDown)
	p.LifetimeDrawn = cloneBig(p.LifetimeDrawn)
	p.RepaymentsOfPrincipal = cloneBig(p.RepaymentsOfPrincipal)
	p.InterestRepaymentsCumulative = cloneBig(p.InterestRepaymentsCumulative)
	p.AccruedInterest = cloneBig(p.AccruedInterest)
	p.TotalRedeemedPrincipal = cloneBig(p.TotalRedeemedPrincipal)
	p.TotalSupply = cloneBig(p.TotalSupply)
}

// Holder is a claim-token position in one pool.
type Holder struct {
	Balance *big.Int
	// LastInterestIndex is the pool's cumulative interest index at the
	// holder's last checkpoint.
	LastInterestIndex *big.Int
}

func (h *Holder) normalize() {
	h.Balance = cloneBig(h.Balance)
	h.LastInterestIndex = cloneBig(h.LastInterestIndex)
}

// Params configure a new pool.
type Params struct {
	Asset           crypto.Address
	Borrower        crypto.Address
	Goal            *big.Int
	InterestRateBps uint64
	Mode            Mode
}

// RepayResult reports how a pool repayment was split.
type RepayResult struct {
	Fee       *big.Int
	Interest  *big.Int
	Principal *big.Int
	Refund    *big.Int
}

// Details joins a pool with its derived figures and asset metadata.
type Details struct {
	Pool            *Pool
	Outstanding     *big.Int
	AccruedInterest *big.Int
	TotalOwed       *big.Int
	Available       *big.Int
	FullyRepaid     bool
	Asset           token.Metadata
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
