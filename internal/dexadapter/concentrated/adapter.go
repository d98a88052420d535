package concentrated

import (
	"fmt"
	"math/big"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// Adapter quotes concentrated-liquidity (v3-style) pools. It consumes the pool's currently
// reported sqrtPriceX96/liquidity and walks the trade within the tick-spacing bucket the
// current tick sits in; it never extrapolates past that bucket's liquidity without fresh
// tick data, returning ErrInsufficientPoolData instead.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func state(pool types.PoolDescriptor, snap types.PoolSnapshot) (sqrtPriceX96, liquidity *big.Int, tick int32, err error) {
	sqrtPriceX96, ok := new(big.Int).SetString(snap.SqrtPriceX96, 10)
	if !ok {
		return nil, nil, 0, fmt.Errorf("pool %s: malformed sqrtPriceX96 %q: %w", pool.ShortLabel(), snap.SqrtPriceX96, types.ErrInsufficientPoolData)
	}
	liquidity, ok = new(big.Int).SetString(snap.Liquidity, 10)
	if !ok {
		return nil, nil, 0, fmt.Errorf("pool %s: malformed liquidity %q: %w", pool.ShortLabel(), snap.Liquidity, types.ErrInsufficientPoolData)
	}
	if sqrtPriceX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, nil, 0, fmt.Errorf("pool %s: non-positive v3 state: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}
	return sqrtPriceX96, liquidity, snap.Tick, nil
}

// Quote walks the swap within the liquidity bucket bracketing the pool's current tick. A
// trade that would cross the bucket boundary is not quoted: Quote returns
// ErrInsufficientPoolData, since quoting past it requires tick data this adapter does not
// fetch.
func (a *Adapter) Quote(pool types.PoolDescriptor, snap types.PoolSnapshot, amountIn *big.Int) (*big.Int, error) {
	if amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	sqrtPriceX96, liquidity, tick, err := state(pool, snap)
	if err != nil {
		return nil, err
	}

	tickSpacing := int32(pool.TickSpacing)
	if tickSpacing <= 0 {
		tickSpacing = 60
	}
	lower, _ := CalculateTickBounds(tick, tickSpacing)
	sqrtLower := TickToSqrtPriceX96(int(lower))

	feeMultiplier := new(big.Int).Sub(big.NewInt(10000), big.NewInt(int64(pool.FeeBps)))
	amountInAfterFee := new(big.Int).Div(new(big.Int).Mul(amountIn, feeMultiplier), big.NewInt(10000))

	// base token is token0 by convention: selling base moves price down (toward sqrtLower).
	// Only the lower bound can ever bind for this direction, so the upper tick boundary is
	// never computed.
	nextSqrt := getNextSqrtPriceFromAmount0(sqrtPriceX96, liquidity, amountInAfterFee)
	if nextSqrt.Cmp(sqrtLower) < 0 {
		return nil, fmt.Errorf("pool %s: trade crosses tick boundary without fetched tick data: %w", pool.ShortLabel(), types.ErrInsufficientPoolData)
	}

	return getAmount1Delta(nextSqrt, sqrtPriceX96, liquidity), nil
}

// PriceAtMargin returns the spot price base->quote derived from sqrtPriceX96, at full
// precision before the caller's final rounding.
func (a *Adapter) PriceAtMargin(pool types.PoolDescriptor, snap types.PoolSnapshot) (*big.Rat, error) {
	sqrtPriceX96, _, _, err := state(pool, snap)
	if err != nil {
		return nil, err
	}
	priceFloat := SqrtPriceToPrice(sqrtPriceX96)
	rat := new(big.Rat)
	rat.SetString(priceFloat.Text('g', 40))
	return rat, nil
}

func (a *Adapter) FeeBps(pool types.PoolDescriptor) int {
	return pool.FeeBps
}
