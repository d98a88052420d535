// Package constantproduct implements the v2-family quote math:
// amountOut = (amountIn*(10000-feeBps)*reserveOut) / (reserveIn*10000 + amountIn*(10000-feeBps)).
// All arithmetic runs in arbitrary-precision integers (math/big) so intermediate products
// never overflow for 256-bit reserve values.
package constantproduct

import (
	"fmt"
	"math/big"

	"github.com/blackholelabs/arbengine/pkg/types"
)

const feeDenominatorBps = 10000

// Adapter quotes constant-product (Uniswap v2-style) pools.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func reserves(pool types.PoolDescriptor, snap types.PoolSnapshot) (*big.Int, *big.Int, error) {
	reserveBase, ok := new(big.Int).SetString(snap.ReserveBase, 10)
	if !ok {
		return nil, nil, fmt.Errorf("pool %s: malformed reserveBase %q: %w", pool.ShortLabel(), snap.ReserveBase, types.ErrInsufficientPoolData)
	}
	reserveQuote, ok := new(big.Int).SetString(snap.ReserveQuote, 10)
	if !ok {
		return nil, nil, fmt.Errorf("pool %s: malformed reserveQuote %q: %w", pool.ShortLabel(), snap.ReserveQuote, types.ErrInsufficientPoolData)
	}
	if reserveBase.Sign() <= 0 || reserveQuote.Sign() <= 0 {
		return nil, nil, fmt.Errorf("pool %s: non-positive reserves: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}
	return reserveBase, reserveQuote, nil
}

// Quote computes the base->quote swap output. Overflow is impossible in Go's arbitrary
// precision big.Int, but inputs are still validated against the pool's reported reserves.
func (a *Adapter) Quote(pool types.PoolDescriptor, snap types.PoolSnapshot, amountIn *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	reserveIn, reserveOut, err := reserves(pool, snap)
	if err != nil {
		return nil, err
	}

	feeMultiplier := big.NewInt(int64(feeDenominatorBps - pool.FeeBps))
	amountInWithFee := new(big.Int).Mul(amountIn, feeMultiplier)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(feeDenominatorBps)), amountInWithFee)
	if denominator.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).Div(numerator, denominator), nil
}

// PriceAtMargin is the spot marginal price base->quote: reserveQuote/reserveIn, fee-adjusted
// in the limit of an infinitesimal trade (i.e. fee-free, since fee only bites on executed size).
func (a *Adapter) PriceAtMargin(pool types.PoolDescriptor, snap types.PoolSnapshot) (*big.Rat, error) {
	reserveIn, reserveOut, err := reserves(pool, snap)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).SetFrac(reserveOut, reserveIn), nil
}

func (a *Adapter) FeeBps(pool types.PoolDescriptor) int {
	return pool.FeeBps
}
