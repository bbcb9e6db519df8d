package safemath

import (
	"errors"
	"math"
	"math/bits"

	"github.com/ryanavella/wide"
)

var (
	ErrIntegerOverflow  = errors.New("integer overflow")
	ErrIntegerUnderflow = errors.New("integer underflow")
	ErrDivideByZero     = errors.New("division by zero")
)

func CheckedAddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrIntegerOverflow
	}
	return sum, nil
}

func CheckedSubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrIntegerUnderflow
	}
	return diff, nil
}

func CheckedMulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrIntegerOverflow
	}
	return lo, nil
}

func SaturatingAddU64(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func SaturatingSubU64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// CheckedSubI64 returns a-b, failing when the result does not fit an int64.
func CheckedSubI64(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, ErrIntegerOverflow
	}
	return diff, nil
}

var zeroU128 = wide.Uint128FromUint64(0)

func CheckedMulU128(a, b wide.Uint128) (wide.Uint128, error) {
	product := a.Mul(b)
	if a != zeroU128 && product.Div(a) != b {
		return zeroU128, ErrIntegerOverflow
	}
	return product, nil
}

func CheckedDivU128(a, b wide.Uint128) (wide.Uint128, error) {
	if b == zeroU128 {
		return zeroU128, ErrDivideByZero
	}
	return a.Div(b), nil
}
