package txmanager

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

const bipsDenominator = 10000

// BoostFee returns base grown by multiplierBips per boost for boosts rounds, never more
// than base scaled by maxMultiplierBips. Multipliers are in basis points, 11000 is 1.1.
func BoostFee(base *big.Int, boosts int, multiplierBips uint64, maxMultiplierBips uint64) *big.Int {
	if base == nil {
		return nil
	}

	denominator := big.NewInt(bipsDenominator)
	fee := new(big.Int).Set(base)
	for i := 0; i < boosts; i++ {
		fee.Mul(fee, new(big.Int).SetUint64(multiplierBips))
		fee.Div(fee, denominator)
	}

	ceiling := new(big.Int).Mul(base, new(big.Int).SetUint64(maxMultiplierBips))
	ceiling.Div(ceiling, denominator)

	return minBig(fee, ceiling)
}

func toBips(multiplier float64) uint64 {
	return uint64(math.Round(multiplier * bipsDenominator))
}

// gweiToWei converts a configured gwei amount. Zero means unset and returns nil.
func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei)).Int(nil)
	return wei
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// clampBig caps value at limit. A nil limit means no cap.
func clampBig(value *big.Int, limit *big.Int) *big.Int {
	if limit == nil || value.Cmp(limit) <= 0 {
		return value
	}
	return new(big.Int).Set(limit)
}
