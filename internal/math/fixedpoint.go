package math

import (
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// CustodyConfig is the unit scale every custody token must report.
	CustodyConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// NativeConfig is the scale used when displaying native-asset amounts.
	NativeConfig = DecimalConfig{DecimalPrecision: 9, Scale: 1_000_000_000}
)

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// CheckedMul returns a*b, or false when the product does not fit in int64.
func CheckedMul(a, b int64) (int64, bool) {
	product := getInt128()
	defer putInt128(product)

	product.Mul(big.NewInt(a), big.NewInt(b))
	if !product.IsInt64() {
		return 0, false
	}
	return product.Int64(), true
}

// CheckedAdd returns a+b, or false on overflow.
func CheckedAdd(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// SplitFee divides amount into (fee, remainder) for an integer percentage.
// The fee is floored; whatever the floor drops stays in remainder, so
// fee + remainder == amount for every input.
func SplitFee(amount int64, feePercent int64) (fee int64, remainder int64) {
	if amount <= 0 || feePercent <= 0 {
		return 0, amount
	}

	numerator := getInt128()
	defer putInt128(numerator)
	numerator.Mul(big.NewInt(amount), big.NewInt(feePercent))

	quotient := getInt128()
	defer putInt128(quotient)
	quotient.Quo(numerator, big.NewInt(100))

	fee = quotient.Int64()
	return fee, amount - fee
}

// ModUint256 interprets value as a big-endian unsigned integer and returns
// value mod n. n must be non-zero.
func ModUint256(value [32]byte, n uint64) uint64 {
	v := getInt128()
	defer putInt128(v)
	v.SetBytes(value[:])

	m := getInt128()
	defer putInt128(m)
	m.SetUint64(n)

	v.Mod(v, m)
	return v.Uint64()
}

// ToDecimal renders a fixed-point amount in whole units.
func ToDecimal(amount int64, cfg DecimalConfig) decimal.Decimal {
	return decimal.New(amount, -int32(cfg.DecimalPrecision))
}

// FromDecimal converts a whole-unit decimal back to fixed point, truncating
// anything below the configured precision.
func FromDecimal(d decimal.Decimal, cfg DecimalConfig) int64 {
	return d.Shift(int32(cfg.DecimalPrecision)).Truncate(0).IntPart()
}
