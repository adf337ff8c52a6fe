package domain

import "github.com/holiman/uint256"

// Amount is a stake denominated in the custody service's smallest unit.
// All arithmetic on amounts saturates instead of wrapping so that an
// overflow can never corrupt a ledger or panic mid-operation.
type Amount uint64

// MaxAmount is the clamp value for saturating arithmetic.
const MaxAmount = Amount(^uint64(0))

// SaturatingAdd returns a+b, clamped to MaxAmount on overflow.
func (a Amount) SaturatingAdd(b Amount) Amount {
	sum := a + b
	if sum < a {
		return MaxAmount
	}
	return sum
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Winnings computes a winner's payout: the original bet plus a pro-rata
// share of the losing pool, floor(losePool*bet/winPool). The multiplication
// runs in 256-bit arithmetic so it cannot overflow before the division; the
// truncated remainder is never redistributed and stays in escrow. A zero
// winning pool pays back the bare bet (unreachable when bet > 0, kept as a
// guard).
func Winnings(bet, winPool, losePool Amount) Amount {
	if winPool.IsZero() {
		return bet
	}
	share := new(uint256.Int).Mul(
		uint256.NewInt(uint64(losePool)),
		uint256.NewInt(uint64(bet)),
	)
	share.Div(share, uint256.NewInt(uint64(winPool)))
	if !share.IsUint64() {
		return MaxAmount
	}
	return bet.SaturatingAdd(Amount(share.Uint64()))
}
