package stableswap

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/pkg/types"
)

func testPool(feeBps int) types.PoolDescriptor {
	return types.PoolDescriptor{
		ChainID: 1, DexID: "curve", Address: "0x0000000000000000000000000000000000000003",
		FeeBps: feeBps, Family: types.FamilyStableSwap, Amplification: 100,
	}
}

func testSnap(base, quote string) types.PoolSnapshot {
	return types.PoolSnapshot{
		Family: types.FamilyStableSwap, ReserveBase: base, ReserveQuote: quote,
		AmplificationCoefficient: 100,
	}
}

func TestQuoteZeroAmountInReturnsZero(t *testing.T) {
	a := New()
	out, err := a.Quote(testPool(4), testSnap("1000000000000", "1000000000000"), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), out)
}

func TestQuoteNearPegIsCloseToOneToOne(t *testing.T) {
	a := New()
	pool := testPool(4)
	snap := testSnap("1000000000000", "1000000000000")

	out, err := a.Quote(pool, snap, big.NewInt(1_000_000))
	require.NoError(t, err)
	// At the peg with deep balanced reserves, a small trade should come back close to par.
	f := new(big.Float).Quo(new(big.Float).SetInt(out), big.NewFloat(1_000_000))
	v, _ := f.Float64()
	assert.InDelta(t, 1.0, v, 0.01)
}

func TestQuoteMonotonicInAmountIn(t *testing.T) {
	a := New()
	pool := testPool(4)
	snap := testSnap("1000000000000", "1000000000000")

	prev := big.NewInt(0)
	for _, x := range []int64{1000, 100000, 10000000} {
		out, err := a.Quote(pool, snap, big.NewInt(x))
		require.NoError(t, err)
		assert.True(t, out.Cmp(prev) >= 0)
		prev = out
	}
}

func TestQuoteMissingAmplificationIsInsufficientData(t *testing.T) {
	a := New()
	pool := types.PoolDescriptor{ChainID: 1, DexID: "curve", Address: "0x0000000000000000000000000000000000000003", Family: types.FamilyStableSwap}
	snap := types.PoolSnapshot{Family: types.FamilyStableSwap, ReserveBase: "1000", ReserveQuote: "1000"}
	_, err := a.Quote(pool, snap, big.NewInt(100))
	require.Error(t, err)
}

func TestFeeBpsReturnsPoolFee(t *testing.T) {
	a := New()
	assert.Equal(t, 4, a.FeeBps(testPool(4)))
}
