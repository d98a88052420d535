package arbsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blackholelabs/arbengine/pkg/types"
)

func weth() string { return "0x0000000000000000000000000000000000000w" }

func poolDesc(dexID, base, quote string, feeBps int) types.PoolDescriptor {
	return types.PoolDescriptor{
		ChainID: 56, DexID: dexID, Address: dexID + "-" + base + "-" + quote,
		Base: base, Quote: quote, FeeBps: feeBps, Family: types.FamilyConstantProduct,
	}
}

func q(pool types.PoolDescriptor, price, liquidity float64, stale bool) quoted {
	return quoted{pool: pool, price: price, liquidity: liquidity, stale: stale}
}

// TestTwoLegScanEmitsCandidateAboveThreshold: two pools for
// the same pair on distinct DEXs with a >=1bp price gap.
func TestTwoLegScanEmitsCandidateAboveThreshold(t *testing.T) {
	pA := poolDesc("pancakeswap", "weth", "usdc", 30)
	pB := poolDesc("sushiswap", "weth", "usdc", 30)

	quotes := []quoted{
		q(pA, 2477.59, 1_000_000, false),
		q(pB, 2502.50, 1_000_000, false),
	}

	candidates := twoLegScan(56, quotes)
	assert.Len(t, candidates, 1)
	assert.Equal(t, 2, candidates[0].Hops())
	// (2502.50-2477.59)/2477.59*10000, a ~1% gap.
	assert.InDelta(t, 100.54, candidates[0].EstGrossBps, 0.01)
}

func TestTwoLegScanSkipsSameDex(t *testing.T) {
	pA := poolDesc("pancakeswap", "weth", "usdc", 30)
	pB := poolDesc("pancakeswap", "weth", "usdc", 30)
	quotes := []quoted{q(pA, 2000, 1, false), q(pB, 2100, 1, false)}
	assert.Empty(t, twoLegScan(56, quotes))
}

func TestTwoLegScanSkipsBelowThreshold(t *testing.T) {
	pA := poolDesc("pancakeswap", "weth", "usdc", 30)
	pB := poolDesc("sushiswap", "weth", "usdc", 30)
	quotes := []quoted{q(pA, 2000.00, 1, false), q(pB, 2000.0001, 1, false)}
	assert.Empty(t, twoLegScan(56, quotes))
}

func TestTwoLegScanSkipsStaleSnapshots(t *testing.T) {
	pA := poolDesc("pancakeswap", "weth", "usdc", 30)
	pB := poolDesc("sushiswap", "weth", "usdc", 30)
	quotes := []quoted{q(pA, 2000, 1, true), q(pB, 2100, 1, false)}
	assert.Empty(t, twoLegScan(56, quotes))
}

// TestThreeLegScanNoOpportunityWhenCycleNonNegativeAfterFees:
// a near-1.0 three-pool cycle whose log-sum goes negative once 30bps-per-leg fees are
// applied, so no cycle should be reported.
func TestThreeLegScanNoOpportunityWhenCycleNonNegativeAfterFees(t *testing.T) {
	usdcDai := poolDesc("dexA", "usdc", "dai", 30)
	daiUsdt := poolDesc("dexB", "dai", "usdt", 30)
	usdtUsdc := poolDesc("dexC", "usdt", "usdc", 30)

	quotes := []quoted{
		q(usdcDai, 1.002, 1_000_000, false),
		q(daiUsdt, 1.001, 1_000_000, false),
		q(usdtUsdc, 0.998, 1_000_000, false),
	}

	candidates := threeLegScan(56, quotes)
	assert.Empty(t, candidates)
}

// TestThreeLegScanFindsProfitableCycle constructs a clean-profit triangle (no fees) to
// confirm the Bellman-Ford pass surfaces it.
func TestThreeLegScanFindsProfitableCycle(t *testing.T) {
	usdcDai := poolDesc("dexA", "usdc", "dai", 0)
	daiUsdt := poolDesc("dexB", "dai", "usdt", 0)
	usdtUsdc := poolDesc("dexC", "usdt", "usdc", 0)

	quotes := []quoted{
		q(usdcDai, 1.02, 1_000_000, false),
		q(daiUsdt, 1.01, 1_000_000, false),
		q(usdtUsdc, 1.01, 1_000_000, false),
	}

	candidates := threeLegScan(56, quotes)
	if assert.NotEmpty(t, candidates) {
		assert.Equal(t, 3, candidates[0].Hops())
		assert.True(t, candidates[0].EstGrossBps > 0)
	}
}

func TestThreeLegScanCapsAtMaxCyclesPerChain(t *testing.T) {
	var quotes []quoted
	// Build several independent profitable triangles across disjoint token sets.
	for i := 0; i < 15; i++ {
		suffix := string(rune('a' + i))
		a, b, c := "tok"+suffix+"A", "tok"+suffix+"B", "tok"+suffix+"C"
		quotes = append(quotes,
			q(poolDesc("dexA", a, b, 0), 1.05, 1_000_000, false),
			q(poolDesc("dexB", b, c, 0), 1.05, 1_000_000, false),
			q(poolDesc("dexC", c, a, 0), 1.05, 1_000_000, false),
		)
	}
	candidates := threeLegScan(1, quotes)
	assert.LessOrEqual(t, len(candidates), maxCyclesPerChain)
}

func TestSortCandidatesOrdersByHopsThenLiquidityThenDexIds(t *testing.T) {
	candidates := []Candidate{
		{Route: []string{"b", "a"}, MinLiquidity: 100},
		{Route: []string{"a", "b"}, MinLiquidity: 100},
		{Route: []string{"x"}, MinLiquidity: 1},
		{Route: []string{"a", "b", "c"}, MinLiquidity: 1000},
	}
	SortCandidates(candidates)
	assert.Equal(t, []string{"x"}, candidates[0].Route)
	assert.Equal(t, []string{"a", "b"}, candidates[1].Route)
	assert.Equal(t, []string{"b", "a"}, candidates[2].Route)
	assert.Equal(t, []string{"a", "b", "c"}, candidates[3].Route)
}
