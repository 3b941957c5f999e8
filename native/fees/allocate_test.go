package fees

import (
	"math/big"
	"testing"
)

func sum(a Allocation) *big.Int {
	total := a.Applied()
	return total.Add(total, a.Refund)
}

func TestAllocateConservesPayment(t *testing.T) {
	payments := []int64{0, 1, 7, 50, 99, 100, 1_000, 12_345}
	rates := []uint64{0, 1, 200, 3_333, 10_000}
	owed := []int64{0, 1, 13, 500}
	for _, p := range payments {
		for _, rate := range rates {
			for _, interest := range owed {
				for _, principal := range owed {
					a := Allocate(big.NewInt(p), rate, big.NewInt(interest), big.NewInt(principal))
					if sum(a).Cmp(big.NewInt(p)) != 0 {
						t.Fatalf("payment %d rate %d owed %d/%d: parts sum to %s", p, rate, interest, principal, sum(a))
					}
					if a.Interest.Cmp(big.NewInt(interest)) > 0 || a.Principal.Cmp(big.NewInt(principal)) > 0 {
						t.Fatalf("payment %d rate %d: over-allocated %+v", p, rate, a)
					}
					for _, part := range []*big.Int{a.Fee, a.Interest, a.Principal, a.Refund} {
						if part.Sign() < 0 {
							t.Fatalf("negative component in %+v", a)
						}
					}
				}
			}
		}
	}
}

func TestAllocateFeeOnGrossThenInterest(t *testing.T) {
	// 50 paid at 2% against 50 interest: fee 1, interest 49, principal untouched.
	a := Allocate(big.NewInt(50), 200, big.NewInt(50), big.NewInt(1_000))
	if a.Fee.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected fee %s", a.Fee)
	}
	if a.Interest.Cmp(big.NewInt(49)) != 0 {
		t.Fatalf("unexpected interest %s", a.Interest)
	}
	if a.Principal.Sign() != 0 || a.Refund.Sign() != 0 {
		t.Fatalf("principal and refund must be zero: %+v", a)
	}
}

func TestAllocateInterestFreeGoesToPrincipal(t *testing.T) {
	a := Allocate(big.NewInt(300), 0, big.NewInt(0), big.NewInt(200))
	if a.Principal.Cmp(big.NewInt(200)) != 0 || a.Refund.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected split %+v", a)
	}
}

func TestAllocateFeeConsumesEverything(t *testing.T) {
	a := Allocate(big.NewInt(40), MaxFeeBps, big.NewInt(10), big.NewInt(10))
	if a.Fee.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected the whole payment as fee, got %s", a.Fee)
	}
	if a.Interest.Sign() != 0 || a.Principal.Sign() != 0 || a.Refund.Sign() != 0 {
		t.Fatalf("nothing may remain after a 100%% fee: %+v", a)
	}
}

func TestFeeOnTruncates(t *testing.T) {
	if got := FeeOn(big.NewInt(49), 200); got.Cmp(big.NewInt(0)) != 0 {
		t.Fatalf("expected 0 fee on 49 at 2%%, got %s", got)
	}
	if got := FeeOn(big.NewInt(1_000), 250); got.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("expected 25, got %s", got)
	}
}
