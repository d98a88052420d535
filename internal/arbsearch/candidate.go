package arbsearch

import (
	"math/big"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// Candidate is a raw arbitrage route surfaced by the search, before size optimization and
// admission screening. EstGrossBps is the price-difference signal that earns the route a
// look from the size optimizer; it is not a profit estimate. For 2-leg routes it is the spot
// price gap before fees; for 3-leg routes it comes from the fee-adjusted cycle product.
type Candidate struct {
	ChainID      int64
	Route        []string // dexId per hop, length 2 or 3
	PoolsUsed    []types.PoolRef
	TokenPath    []string // token addresses, length hops+1, TokenPath[0]==TokenPath[len-1] for circular routes
	EstGrossBps  float64
	MinLiquidity float64 // smallest per-pool liquidity proxy along the route, for tie-breaks
}

func (c *Candidate) Hops() int { return len(c.Route) }

// liquidityProxy estimates a pool's depth from its family-tagged snapshot, used only to
// rank routes against each other in tie-breaks, never for profit math.
func liquidityProxy(snap types.PoolSnapshot) float64 {
	toFloat := func(s string) float64 {
		v, ok := new(big.Float).SetString(s)
		if !ok {
			return 0
		}
		f, _ := v.Float64()
		return f
	}
	switch snap.Family {
	case types.FamilyConcentrated:
		return toFloat(snap.Liquidity)
	case types.FamilyWeighted:
		total := 0.0
		for _, b := range snap.Balances {
			total += toFloat(b)
		}
		return total
	default: // constantProduct, stableSwap
		return toFloat(snap.ReserveBase) + toFloat(snap.ReserveQuote)
	}
}
