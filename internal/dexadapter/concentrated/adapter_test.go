package concentrated

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/pkg/types"
)

func testPool(feeBps, tickSpacing int) types.PoolDescriptor {
	return types.PoolDescriptor{
		ChainID: 1, DexID: "uniswap-v3", Address: "0x0000000000000000000000000000000000000002",
		FeeBps: feeBps, Family: types.FamilyConcentrated, TickSpacing: tickSpacing,
	}
}

func testSnap(sqrtPriceX96, liquidity string, tick int32) types.PoolSnapshot {
	return types.PoolSnapshot{
		Family: types.FamilyConcentrated, SqrtPriceX96: sqrtPriceX96, Liquidity: liquidity, Tick: tick,
	}
}

func TestQuoteZeroAmountInReturnsZero(t *testing.T) {
	a := New()
	sqrtP := TickToSqrtPriceX96(30).String()
	out, err := a.Quote(testPool(30, 60), testSnap(sqrtP, "1000000000000", 30), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), out)
}

func TestQuoteMonotonicInAmountIn(t *testing.T) {
	a := New()
	pool := testPool(30, 60)
	// Mid-bucket tick (bucket [0,60)) leaves headroom before the trade walks out of range.
	sqrtP := TickToSqrtPriceX96(30).String()
	snap := testSnap(sqrtP, "1000000000000000000000", 30)

	prev := big.NewInt(0)
	for _, x := range []int64{1000, 10000, 100000} {
		out, err := a.Quote(pool, snap, big.NewInt(x))
		require.NoError(t, err)
		assert.True(t, out.Cmp(prev) >= 0)
		prev = out
	}
}

func TestQuoteInsufficientPoolDataOnMalformedState(t *testing.T) {
	a := New()
	_, err := a.Quote(testPool(30, 60), testSnap("garbage", "1000", 30), big.NewInt(100))
	require.Error(t, err)
}

func TestQuoteCrossingBoundaryReturnsInsufficientData(t *testing.T) {
	a := New()
	pool := testPool(30, 60)
	sqrtP := TickToSqrtPriceX96(30).String()
	// Tiny liquidity means even a modest trade walks past the tick bucket boundary.
	snap := testSnap(sqrtP, "100", 30)
	_, err := a.Quote(pool, snap, big.NewInt(1_000_000))
	require.Error(t, err)
}

func TestPriceAtMarginAtTickZeroIsOne(t *testing.T) {
	a := New()
	sqrtP := TickToSqrtPriceX96(0).String()
	price, err := a.PriceAtMargin(testPool(30, 60), testSnap(sqrtP, "1000000000000", 0))
	require.NoError(t, err)
	f, _ := price.Float64()
	assert.InDelta(t, 1.0, f, 1e-6)
}

func TestFeeBpsReturnsPoolFee(t *testing.T) {
	a := New()
	assert.Equal(t, 30, a.FeeBps(testPool(30, 60)))
}
