package pool

import (
	"math/big"

	"spotchain/native/accrual"
)

// accounting holds the formulas that differ between the two modes. Every
// call site goes through it so the modes cannot drift apart.
type accounting interface {
	// Outstanding is the principal still owed and the base interest
	// accrues on.
	Outstanding(p *Pool) *big.Int
	// ApplyPrincipal records a principal repayment.
	ApplyPrincipal(p *Pool, amount *big.Int)
	// Redeem computes the principal returned for burning amount claim
	// tokens and records it on the pool.
	Redeem(p *Pool, amount *big.Int) (*big.Int, error)
}

func accountingFor(m Mode) accounting {
	if m == ModeSeparate {
		return separateAccounting{}
	}
	return flexibleAccounting{}
}

type flexibleAccounting struct{}

func (flexibleAccounting) Outstanding(p *Pool) *big.Int {
	return new(big.Int).Set(p.TotalDrawnDown)
}

func (flexibleAccounting) ApplyPrincipal(p *Pool, amount *big.Int) {
	p.TotalDrawnDown.Sub(p.TotalDrawnDown, amount)
}

// Redeem returns undrawn principal. Claim tokens are rescaled to asset
// decimals with truncation; burning always consumes the full token amount.
func (flexibleAccounting) Redeem(p *Pool, amount *big.Int) (*big.Int, error) {
	principal := tokensToPrincipal(amount, p.AssetDecimals)
	if principal.Sign() == 0 {
		return nil, ErrRedemptionTooSmall
	}
	if principal.Cmp(undrawn(p)) > 0 {
		return nil, ErrInsufficientUndrawn
	}
	p.TotalFunded.Sub(p.TotalFunded, principal)
	return principal, nil
}

type separateAccounting struct{}

func (separateAccounting) Outstanding(p *Pool) *big.Int {
	out := new(big.Int).Sub(p.TotalDrawnDown, p.RepaymentsOfPrincipal)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func (separateAccounting) ApplyPrincipal(p *Pool, amount *big.Int) {
	p.RepaymentsOfPrincipal.Add(p.RepaymentsOfPrincipal, amount)
}

// Redeem pays the holder's pro-rata share of repaid, unredeemed principal.
func (separateAccounting) Redeem(p *Pool, amount *big.Int) (*big.Int, error) {
	availablePrincipal := new(big.Int).Sub(p.RepaymentsOfPrincipal, p.TotalRedeemedPrincipal)
	if availablePrincipal.Sign() <= 0 {
		return nil, ErrNoPrincipalAvailable
	}
	if p.TotalSupply.Sign() == 0 {
		return nil, ErrRedemptionTooSmall
	}
	share := new(big.Int).Mul(availablePrincipal, amount)
	share.Quo(share, p.TotalSupply)
	if share.Sign() == 0 {
		return nil, ErrRedemptionTooSmall
	}
	p.TotalRedeemedPrincipal.Add(p.TotalRedeemedPrincipal, share)
	return share, nil
}

// undrawn is the funded principal not currently drawn by the borrower.
func undrawn(p *Pool) *big.Int {
	out := new(big.Int).Sub(p.TotalFunded, p.TotalDrawnDown)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// claimScale is 10^(18-decimals), the factor from asset units to claim
// tokens.
func claimScale(decimals uint8) *big.Int {
	if decimals >= ClaimDecimals {
		return big.NewInt(1)
	}
	return accrual.Pow10(uint(ClaimDecimals - decimals))
}

func principalToTokens(amount *big.Int, decimals uint8) *big.Int {
	return new(big.Int).Mul(amount, claimScale(decimals))
}

// tokensToPrincipal rounds down.
func tokensToPrincipal(amount *big.Int, decimals uint8) *big.Int {
	return new(big.Int).Quo(amount, claimScale(decimals))
}
