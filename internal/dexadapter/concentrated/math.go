// Package concentrated implements the v3-family (concentrated liquidity) quote math:
// Q64.96 tick/sqrt-price conversions and the swap-step formulas that walk a trade through
// the pool's currently active tick range.
package concentrated

import (
	"math"
	"math/big"
)

// Q96 is 2^96, the fixed-point scale of sqrtPriceX96.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// TickToSqrtPriceX96 computes 1.0001^(tick/2) * 2^96, the canonical v3 tick->price
// conversion. The power is evaluated in float64 (math.Pow), then scaled by 2^96 in
// big.Float and truncated to a big.Int, so the result carries float64 precision rather
// than being an exact floor.
func TickToSqrtPriceX96(tick int) *big.Int {
	// price = 1.0001^tick; sqrtPrice = 1.0001^(tick/2)
	base := big.NewFloat(1.0001)
	exp := float64(tick) / 2.0
	ratio := powFloat(base, exp)

	scaled := new(big.Float).Mul(ratio, new(big.Float).SetInt(Q96))
	result, _ := scaled.Int(nil)
	return result
}

// powFloat computes base^exp for a real exponent via math.Pow on the float64 approximation
// of base; no further refinement is applied (typical pool ticks fit well within float64
// exponent range).
func powFloat(base *big.Float, exp float64) *big.Float {
	b, _ := base.Float64()
	approx := math.Pow(b, exp)
	return big.NewFloat(approx)
}

// SqrtPriceToPrice returns (sqrtPriceX96/2^96)^2 as a big.Float, the token1-per-token0
// spot price.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(Q96))
	return new(big.Float).Mul(ratio, ratio)
}

// CalculateTickBounds returns the tick-spacing-aligned bucket containing currentTick, i.e.
// the range over which the pool's currently reported liquidity is known to apply without
// fetching additional tick data.
func CalculateTickBounds(currentTick int32, tickSpacing int32) (lower, upper int32) {
	if tickSpacing <= 0 {
		tickSpacing = 1
	}
	lower = (currentTick / tickSpacing) * tickSpacing
	if currentTick < 0 && currentTick%tickSpacing != 0 {
		lower -= tickSpacing
	}
	upper = lower + tickSpacing
	return lower, upper
}

// getNextSqrtPriceFromAmount0 computes the sqrtPriceX96 reached after adding amount0 of
// token0 to the pool at the given liquidity (token0 in, price falls). The final division
// truncates, so the result rounds down.
func getNextSqrtPriceFromAmount0(sqrtPriceX96, liquidity, amount0 *big.Int) *big.Int {
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount0, sqrtPriceX96)
	denominator := new(big.Int).Add(numerator1, product)
	if denominator.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(numerator1, sqrtPriceX96)
	return new(big.Int).Div(num, denominator)
}

// getAmount1Delta returns liquidity*(sqrtHigh-sqrtLow)/2^96, the token1 amount swept
// between two sqrt prices at constant liquidity.
func getAmount1Delta(sqrtLow, sqrtHigh, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtHigh, sqrtLow)
	if diff.Sign() < 0 {
		diff = new(big.Int).Neg(diff)
	}
	num := new(big.Int).Mul(liquidity, diff)
	return new(big.Int).Div(num, Q96)
}
