package service

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/rl1809/carbon-exchange/internal/core/domain"
)

const basisPointsDenominator = 10000

// quote prices amount credits at price each and splits off the platform fee.
// The fee is floored so fee + sellerPayment == total exactly.
func quote(amount, price, feeBps int64) (total, fee int64, err error) {
	if amount <= 0 || price <= 0 {
		return 0, 0, domain.ErrInvalidAmount
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(price))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, 0, fmt.Errorf("%d x %d: %w", amount, price, domain.ErrOverflow)
	}
	// lo < 2^63 and feeBps <= 10000 keep the high word below the divisor.
	fhi, flo := bits.Mul64(lo, uint64(feeBps))
	q, _ := bits.Div64(fhi, flo, basisPointsDenominator)
	return int64(lo), int64(q), nil
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
