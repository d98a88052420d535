// Package weighted implements the Balancer-style weighted-pool quote math: the power
// formula amountOut = balanceOut*(1-(balanceIn/(balanceIn+amountInAfterFee))^(wIn/wOut)),
// with the power term evaluated in float64 via math.Pow; no fixed-point log/exp is used,
// so precision is that of float64.
package weighted

import (
	"fmt"
	"math"
	"math/big"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// Adapter quotes N-asset weighted pools restricted to the traded base/quote pair; other
// assets in the pool (if any) don't affect a two-token swap under the weighted invariant.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func balancesAndWeights(pool types.PoolDescriptor, snap types.PoolSnapshot) (balIn, balOut *big.Int, wIn, wOut float64, err error) {
	if len(snap.Balances) < 2 || len(snap.Weights) < 2 {
		return nil, nil, 0, 0, fmt.Errorf("pool %s: weighted snapshot needs >=2 balances/weights: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}
	balIn, ok := new(big.Int).SetString(snap.Balances[0], 10)
	if !ok {
		return nil, nil, 0, 0, fmt.Errorf("pool %s: malformed balance[0] %q: %w", pool.ShortLabel(), snap.Balances[0], types.ErrInsufficientPoolData)
	}
	balOut, ok = new(big.Int).SetString(snap.Balances[1], 10)
	if !ok {
		return nil, nil, 0, 0, fmt.Errorf("pool %s: malformed balance[1] %q: %w", pool.ShortLabel(), snap.Balances[1], types.ErrInsufficientPoolData)
	}
	if balIn.Sign() <= 0 || balOut.Sign() <= 0 {
		return nil, nil, 0, 0, fmt.Errorf("pool %s: non-positive weighted balances: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}
	wIn, wOut = snap.Weights[0], snap.Weights[1]
	if wIn <= 0 || wOut <= 0 {
		return nil, nil, 0, 0, fmt.Errorf("pool %s: non-positive weights: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}
	return balIn, balOut, wIn, wOut, nil
}

// Quote computes the weighted-pool swap output. The exponent wIn/wOut is evaluated via
// math.Pow on the float64 ratio; inputs are AMM reserve ratios that fit comfortably within
// float64 precision for the sub-1bp error bound this adapter targets.
func (a *Adapter) Quote(pool types.PoolDescriptor, snap types.PoolSnapshot, amountIn *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	balIn, balOut, wIn, wOut, err := balancesAndWeights(pool, snap)
	if err != nil {
		return nil, err
	}

	feeMultiplier := new(big.Int).Sub(big.NewInt(10000), big.NewInt(int64(pool.FeeBps)))
	amountInAfterFee := new(big.Int).Div(new(big.Int).Mul(amountIn, feeMultiplier), big.NewInt(10000))

	balInF, _ := new(big.Float).SetInt(balIn).Float64()
	balOutF, _ := new(big.Float).SetInt(balOut).Float64()
	amtInF, _ := new(big.Float).SetInt(amountInAfterFee).Float64()

	ratio := balInF / (balInF + amtInF)
	powered := math.Pow(ratio, wIn/wOut)
	outF := balOutF * (1 - powered)
	if outF < 0 {
		outF = 0
	}

	out, _ := big.NewFloat(outF).Int(nil)
	return out, nil
}

// PriceAtMargin returns the spot marginal price base->quote: (balanceOut/weightOut) /
// (balanceIn/weightIn), the standard weighted-pool spot price.
func (a *Adapter) PriceAtMargin(pool types.PoolDescriptor, snap types.PoolSnapshot) (*big.Rat, error) {
	balIn, balOut, wIn, wOut, err := balancesAndWeights(pool, snap)
	if err != nil {
		return nil, err
	}
	num := new(big.Float).Quo(new(big.Float).SetInt(balOut), big.NewFloat(wOut))
	den := new(big.Float).Quo(new(big.Float).SetInt(balIn), big.NewFloat(wIn))
	price := new(big.Float).Quo(num, den)
	rat := new(big.Rat)
	rat.SetString(price.Text('g', 40))
	return rat, nil
}

func (a *Adapter) FeeBps(pool types.PoolDescriptor) int {
	return pool.FeeBps
}
