// Package arbsearch implements the 2-leg pairwise scan and the 3-leg circular
// (Bellman-Ford) search over a chain's quoted pools. The token graph is built per scan
// round from a flat arena: tokens indexed 0..N, edges stored in a slice with no heap
// pointers between nodes, so
// resetting the graph each round is a single slice discard.
package arbsearch

import (
	"strings"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// Edge is one directed, weighted graph edge: a quoted pool contributes one edge per
// direction (base->quote and quote->base).
type Edge struct {
	From, To  int
	Weight    float64 // -log(effectivePriceAfterFee)
	Pool      types.PoolRef
	DexID     string
	Liquidity float64 // liquidity proxy of the underlying pool, for route tie-breaks
}

// Arena is the flat token-index + edge-list graph for one chain's scan round.
type Arena struct {
	ChainID   int64
	indexOf   map[string]int
	Tokens    []string // index -> lowercase hex address
	Edges     []Edge
}

// NewArena allocates an empty arena for a chain; callers add edges via AddEdge.
func NewArena(chainID int64) *Arena {
	return &Arena{ChainID: chainID, indexOf: make(map[string]int)}
}

// tokenIndex returns the arena-local index for a token address, allocating a new one on
// first sight. Addresses are case-folded so the same token always maps to one node.
func (a *Arena) tokenIndex(address string) int {
	key := strings.ToLower(address)
	if idx, ok := a.indexOf[key]; ok {
		return idx
	}
	idx := len(a.Tokens)
	a.indexOf[key] = idx
	a.Tokens = append(a.Tokens, key)
	return idx
}

// AddEdge registers a directed edge from->to weighted by weight, carrying the pool/dexId
// that produced it so cycle reconstruction can recover the route.
func (a *Arena) AddEdge(from, to string, weight float64, pool types.PoolRef, dexID string, liquidity float64) {
	a.Edges = append(a.Edges, Edge{
		From:      a.tokenIndex(from),
		To:        a.tokenIndex(to),
		Weight:    weight,
		Pool:      pool,
		DexID:     dexID,
		Liquidity: liquidity,
	})
}

// TokenAt returns the address at index idx.
func (a *Arena) TokenAt(idx int) string {
	return a.Tokens[idx]
}

// IndexOf returns the arena-local index for address, if any edge touched it.
func (a *Arena) IndexOf(address string) (int, bool) {
	idx, ok := a.indexOf[strings.ToLower(address)]
	return idx, ok
}
