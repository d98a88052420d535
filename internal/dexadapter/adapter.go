// Package dexadapter defines the common per-family quoting contract and hosts the four
// family adapters in subpackages: constantproduct, concentrated, stableswap, weighted.
package dexadapter

import (
	"math/big"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// Adapter is the contract every AMM family implements: a pure quote function of snapshot
// and amountIn, a spot marginal price, and the pool's fee.
type Adapter interface {
	// Quote returns the output amount for amountIn, pure in (pool, snapshot, amountIn).
	Quote(pool types.PoolDescriptor, snapshot types.PoolSnapshot, amountIn *big.Int) (*big.Int, error)
	// PriceAtMargin returns the spot marginal price, base->quote, at full precision before
	// any final rounding the caller applies.
	PriceAtMargin(pool types.PoolDescriptor, snapshot types.PoolSnapshot) (*big.Rat, error)
	// FeeBps returns the pool's fee in basis points.
	FeeBps(pool types.PoolDescriptor) int
}

// Registry dispatches to the right Adapter by family, used by pricefeed, arbsearch and
// sizeoptimizer.
type Registry struct {
	byFamily map[types.Family]Adapter
}

func NewRegistry() *Registry {
	return &Registry{byFamily: make(map[types.Family]Adapter)}
}

func (r *Registry) Register(family types.Family, a Adapter) {
	r.byFamily[family] = a
}

func (r *Registry) For(family types.Family) (Adapter, bool) {
	a, ok := r.byFamily[family]
	return a, ok
}
