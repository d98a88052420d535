package arbsearch

import (
	"math"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// threeLegScan runs the circular search: build a directed log-price graph
// over the quoted pools (two edges per pool, one per direction, weighted
// -log(effectivePriceAfterFee)), then run a bounded (<=3 edges) Bellman-Ford relaxation
// from each candidate start token. A length-3 cycle back to the start with total weight < 0
// is a profitable circular opportunity; the most negative cycle per start token is kept,
// capped at maxCyclesPerChain per round.
func threeLegScan(chainID int64, quotes []quoted) []Candidate {
	arena := NewArena(chainID)
	for _, q := range quotes {
		if q.stale || q.price <= 0 {
			continue
		}
		feeAdjusted := q.price * (1 - float64(q.pool.FeeBps)/10000)
		ref := poolRef(q.pool)
		arena.AddEdge(q.pool.Base, q.pool.Quote, logPrice(feeAdjusted), ref, q.pool.DexID, q.liquidity)
		if feeAdjusted > 0 {
			reverseAdjusted := (1 / q.price) * (1 - float64(q.pool.FeeBps)/10000)
			arena.AddEdge(q.pool.Quote, q.pool.Base, logPrice(reverseAdjusted), ref, q.pool.DexID, q.liquidity)
		}
	}

	n := len(arena.Tokens)
	if n == 0 {
		return nil
	}

	var best []foundCycle

	for start := 0; start < n; start++ {
		cand, weight, ok := bestThreeCycleFrom(arena, start)
		if ok && weight < 0 {
			best = append(best, foundCycle{weight: weight, candidate: cand})
		}
	}

	sortFoundByWeight(best)
	if len(best) > maxCyclesPerChain {
		best = best[:maxCyclesPerChain]
	}

	out := make([]Candidate, 0, len(best))
	for _, f := range best {
		out = append(out, f.candidate)
	}
	return out
}

// bellmanEntry tracks, for one (step,node) cell, the best distance found and the edge used
// to reach it, so a discovered negative cycle can be reconstructed into a route.
type bellmanEntry struct {
	dist float64
	via  int // index into arena.Edges, or -1
}

// bestThreeCycleFrom runs the "at most k edges" Bellman-Ford variant for k=3 from start,
// returning the cycle back to start (if any) with the lowest total weight.
func bestThreeCycleFrom(arena *Arena, start int) (Candidate, float64, bool) {
	n := len(arena.Tokens)
	const steps = 3

	dist := make([][]bellmanEntry, steps+1)
	for i := range dist {
		dist[i] = make([]bellmanEntry, n)
		for v := range dist[i] {
			dist[i][v] = bellmanEntry{dist: math.Inf(1), via: -1}
		}
	}
	dist[0][start] = bellmanEntry{dist: 0, via: -1}

	for step := 1; step <= steps; step++ {
		for ei, e := range arena.Edges {
			if math.IsInf(dist[step-1][e.From].dist, 1) {
				continue
			}
			cand := dist[step-1][e.From].dist + e.Weight
			if cand < dist[step][e.To].dist {
				dist[step][e.To] = bellmanEntry{dist: cand, via: ei}
			}
		}
	}

	final := dist[steps][start]
	if math.IsInf(final.dist, 1) || final.via < 0 {
		return Candidate{}, 0, false
	}

	edges := reconstructPath(arena, dist, steps, start)
	if len(edges) != steps {
		return Candidate{}, 0, false
	}
	if !distinctPools(edges) {
		return Candidate{}, 0, false
	}

	route := make([]string, steps)
	poolsUsed := make([]types.PoolRef, steps)
	tokenPath := make([]string, steps+1)
	minLiq := math.Inf(1)
	for i, e := range edges {
		route[i] = e.DexID
		poolsUsed[i] = e.Pool
		tokenPath[i] = arena.TokenAt(e.From)
		if e.Liquidity < minLiq {
			minLiq = e.Liquidity
		}
	}
	tokenPath[steps] = arena.TokenAt(edges[steps-1].To)

	return Candidate{
		ChainID:      arena.ChainID,
		Route:        route,
		PoolsUsed:    poolsUsed,
		TokenPath:    tokenPath,
		EstGrossBps:  -final.dist * 10000, // -log(product) in bps terms, a monotone profit signal
		MinLiquidity: minLiq,
	}, final.dist, true
}

// reconstructPath walks the via-edge chain backward from (steps,start) to recover the
// sequence of edges that produced the best path, in forward order.
func reconstructPath(arena *Arena, dist [][]bellmanEntry, steps, start int) []Edge {
	path := make([]Edge, 0, steps)
	node := start
	for step := steps; step > 0; step-- {
		entry := dist[step][node]
		if entry.via < 0 {
			return nil
		}
		e := arena.Edges[entry.via]
		path = append(path, e)
		node = e.From
	}
	// path was built backward; reverse it.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// distinctPools rejects routes that traverse the same pool in both directions.
func distinctPools(edges []Edge) bool {
	seen := make(map[types.PoolRef]bool, len(edges))
	for _, e := range edges {
		if seen[e.Pool] {
			return false
		}
		seen[e.Pool] = true
	}
	return true
}

// foundCycle pairs a discovered negative cycle with its total weight, for ranking.
type foundCycle struct {
	weight    float64
	candidate Candidate
}

func sortFoundByWeight(items []foundCycle) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].weight < items[j-1].weight; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
