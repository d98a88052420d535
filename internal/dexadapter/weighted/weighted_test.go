package weighted

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/pkg/types"
)

func testPool(feeBps int) types.PoolDescriptor {
	return types.PoolDescriptor{
		ChainID: 1, DexID: "balancer", Address: "0x0000000000000000000000000000000000000004",
		FeeBps: feeBps, Family: types.FamilyWeighted,
	}
}

func testSnap(balIn, balOut string, wIn, wOut float64) types.PoolSnapshot {
	return types.PoolSnapshot{
		Family: types.FamilyWeighted, Balances: []string{balIn, balOut}, Weights: []float64{wIn, wOut},
	}
}

func TestQuoteZeroAmountInReturnsZero(t *testing.T) {
	a := New()
	out, err := a.Quote(testPool(30), testSnap("1000000", "1000000", 0.5, 0.5), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), out)
}

func TestQuoteEqualWeightsMatchesConstantProductShape(t *testing.T) {
	a := New()
	pool := testPool(0)
	snap := testSnap("1000000000", "1000000000", 0.5, 0.5)

	out, err := a.Quote(pool, snap, big.NewInt(1_000_000))
	require.NoError(t, err)
	// 50/50 weighted pool degenerates to the constant-product curve: x*y=k.
	// amountOut = balOut - (balIn*balOut)/(balIn+amountIn)
	balIn, balOut := big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)
	k := new(big.Int).Mul(balIn, balOut)
	newBalIn := new(big.Int).Add(balIn, big.NewInt(1_000_000))
	expectedNewBalOut := new(big.Int).Div(k, newBalIn)
	expectedOut := new(big.Int).Sub(balOut, expectedNewBalOut)

	diff := new(big.Int).Sub(out, expectedOut)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	assert.True(t, diff.Cmp(big.NewInt(10)) <= 0, "weighted 50/50 quote should match cp within float rounding, got out=%s expected=%s", out, expectedOut)
}

func TestQuoteMonotonicInAmountIn(t *testing.T) {
	a := New()
	pool := testPool(30)
	snap := testSnap("1000000000", "1000000000", 0.8, 0.2)

	prev := big.NewInt(0)
	for _, x := range []int64{1000, 100000, 10000000} {
		out, err := a.Quote(pool, snap, big.NewInt(x))
		require.NoError(t, err)
		assert.True(t, out.Cmp(prev) >= 0)
		prev = out
	}
}

func TestQuoteInsufficientPoolDataWhenMissingWeights(t *testing.T) {
	a := New()
	pool := testPool(30)
	snap := types.PoolSnapshot{Family: types.FamilyWeighted, Balances: []string{"1000"}}
	_, err := a.Quote(pool, snap, big.NewInt(100))
	require.Error(t, err)
}

func TestFeeBpsReturnsPoolFee(t *testing.T) {
	a := New()
	assert.Equal(t, 30, a.FeeBps(testPool(30)))
}
