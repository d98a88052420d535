package arbsearch

import (
	"context"
	"math"
	"sort"

	"github.com/blackholelabs/arbengine/internal/dexadapter"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/pkg/types"
)

const (
	// staleMultiple is the TTL multiple past which a snapshot is considered stale and skipped.
	staleMultiple = 2.0
	// minPriceDiffBps is the 1bp minimum price-difference threshold for a 2-leg candidate.
	minPriceDiffBps = 1.0
	// maxCyclesPerChain caps the 3-leg Bellman-Ford output per chain per round.
	maxCyclesPerChain = 10
)

// quoted is one pool's price/liquidity/staleness, computed once per scan round and reused
// by both the 2-leg and 3-leg passes.
type quoted struct {
	pool      types.PoolDescriptor
	price     float64 // base->quote
	liquidity float64
	stale     bool
}

// Scanner runs both the 2-leg and 3-leg passes over one chain's pool set for a scan round.
// It holds no state across rounds; each Scan call is a fresh, self-contained pass over the
// snapshots observed at that round's start, so every pool in a candidate route is sampled
// at the same logical instant.
type Scanner struct {
	registry *poolregistry.Registry
	adapters *dexadapter.Registry
	ttl      int64 // ms
	nowFn    func() int64
}

func New(registry *poolregistry.Registry, adapters *dexadapter.Registry, ttlMs int64, nowFn func() int64) *Scanner {
	if nowFn == nil {
		nowFn = func() int64 { return 0 }
	}
	return &Scanner{registry: registry, adapters: adapters, ttl: ttlMs, nowFn: nowFn}
}

// quoteAll computes price/liquidity/staleness for every pool, skipping any pool whose
// family has no registered adapter or that fails to quote this round.
func (s *Scanner) quoteAll(ctx context.Context, pools []types.PoolDescriptor) []quoted {
	now := s.nowFn()
	out := make([]quoted, 0, len(pools))
	for _, pool := range pools {
		adapter, ok := s.adapters.For(pool.Family)
		if !ok {
			continue
		}
		snap, err := s.registry.GetSnapshot(ctx, pool)
		if err != nil {
			continue
		}
		price, err := adapter.PriceAtMargin(pool, snap)
		if err != nil {
			continue
		}
		f, _ := price.Float64()
		out = append(out, quoted{
			pool:      pool,
			price:     f,
			liquidity: liquidityProxy(snap),
			stale:     snap.IsStale(now, s.ttl, staleMultiple),
		})
	}
	return out
}

// Scan runs both passes and returns the union of candidates, sorted by the tie-break
// order: fewer hops, then higher minimum route liquidity, then lexicographically smaller
// dexId list.
func (s *Scanner) Scan(ctx context.Context, chainID int64, pools []types.PoolDescriptor) []Candidate {
	quotes := s.quoteAll(ctx, pools)

	var candidates []Candidate
	candidates = append(candidates, twoLegScan(chainID, quotes)...)
	candidates = append(candidates, threeLegScan(chainID, quotes)...)

	SortCandidates(candidates)
	return candidates
}

// SortCandidates applies the tie-break order in place: fewer hops first, then
// higher minimum pool liquidity along the route, then lexicographically smaller dexId list.
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Hops() != b.Hops() {
			return a.Hops() < b.Hops()
		}
		if a.MinLiquidity != b.MinLiquidity {
			return a.MinLiquidity > b.MinLiquidity
		}
		return lexLess(a.Route, b.Route)
	})
}

func lexLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// logPrice safely computes -log(x) for an edge weight, treating non-positive prices as
// unreachable (+Inf weight) rather than producing NaN.
func logPrice(x float64) float64 {
	if x <= 0 {
		return math.Inf(1)
	}
	return -math.Log(x)
}
