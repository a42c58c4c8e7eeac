package codec

import (
	"math/big"
)

// TargetFromBits expands the compact "bits" encoding into the full 256-bit
// proof-of-work target: the top byte is the exponent, the low three bytes
// the mantissa, target = mantissa << 8*(exponent-3).
func TargetFromBits(bits uint32) *big.Int {
	exponent := uint(bits >> 24)
	mantissa := int64(bits & 0x00ffffff)

	target := big.NewInt(mantissa)
	if exponent <= 3 {
		return target.Rsh(target, 8*(3-exponent))
	}
	return target.Lsh(target, 8*(exponent-3))
}

// DifficultyFromBits renders difficulty = maxTarget/target as a decimal
// integer string. Both values can exceed the 64-bit range, so the division
// stays in arbitrary precision end to end. A zero target yields "0".
func DifficultyFromBits(bits uint32, maxTarget *big.Int) string {
	target := TargetFromBits(bits)
	if target.Sign() <= 0 || maxTarget == nil {
		return "0"
	}
	return new(big.Int).Quo(maxTarget, target).String()
}
