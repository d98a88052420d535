package arbsearch

import (
	"strings"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// pairKey canonicalizes an unordered token pair so pools quoting the same pair group
// together regardless of base/quote order.
func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// canonicalPrice returns q's base->quote price expressed as lo->hi (the canonicalized pair
// order), inverting if the pool's own base/quote orientation runs the other way.
func canonicalPrice(q quoted, lo string) float64 {
	if strings.EqualFold(q.pool.Base, lo) {
		return q.price
	}
	if q.price == 0 {
		return 0
	}
	return 1 / q.price
}

// twoLegScan runs the 2-leg scan: for each unordered token-pair group with
// >=2 pools from distinct DEXs, evaluate every unordered pool pair and emit a candidate
// when the canonicalized price difference clears 1bp. Same-DEX pairs and stale snapshots
// are skipped per the edge-case policy.
func twoLegScan(chainID int64, quotes []quoted) []Candidate {
	groups := make(map[string][]quoted)
	for _, q := range quotes {
		if q.stale {
			continue
		}
		groups[pairKey(q.pool.Base, q.pool.Quote)] = append(groups[pairKey(q.pool.Base, q.pool.Quote)], q)
	}

	var out []Candidate
	for key, group := range groups {
		lo := strings.SplitN(key, "|", 2)[0]
		hi := strings.SplitN(key, "|", 2)[1]

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				p1, p2 := group[i], group[j]
				if p1.pool.DexID == p2.pool.DexID {
					continue
				}

				price1 := canonicalPrice(p1, lo)
				price2 := canonicalPrice(p2, lo)
				if price1 <= 0 || price2 <= 0 {
					continue
				}

				minPrice := price1
				cheap, expensive := p1, p2
				if price2 < price1 {
					minPrice = price2
					cheap, expensive = p2, p1
				}
				diffBps := (absFloat(price1-price2) / minPrice) * 10000
				if diffBps < minPriceDiffBps {
					continue
				}

				route := []string{cheap.pool.DexID, expensive.pool.DexID}
				poolsUsed := []types.PoolRef{poolRef(cheap.pool), poolRef(expensive.pool)}
				minLiq := minFloat(cheap.liquidity, expensive.liquidity)

				out = append(out, Candidate{
					ChainID:      chainID,
					Route:        route,
					PoolsUsed:    poolsUsed,
					TokenPath:    []string{hi, lo, hi},
					EstGrossBps:  diffBps,
					MinLiquidity: minLiq,
				})
			}
		}
	}
	return out
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func poolRef(pool types.PoolDescriptor) types.PoolRef {
	return types.PoolRef{ChainID: pool.ChainID, DexID: pool.DexID, Address: pool.Address}
}
