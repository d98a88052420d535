// Package pricefeed aggregates per-family PriceAtMargin quotes into a single canonical
// base->quote price per pool. It is a pure dispatcher over internal/dexadapter: it holds no
// state of its own; every call quotes the caller-specified pool set from the snapshots
// handed to it.
package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blackholelabs/arbengine/internal/dexadapter"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/pkg/types"
)

// Feed aggregates quotes over a pool set using the registry's cached snapshots and the
// family-appropriate adapter.
type Feed struct {
	registry *poolregistry.Registry
	adapters *dexadapter.Registry
}

func New(registry *poolregistry.Registry, adapters *dexadapter.Registry) *Feed {
	return &Feed{registry: registry, adapters: adapters}
}

// PoolPrice is one pool's current spot price, decimals-adjusted by the caller (the feed
// itself returns the raw base/quote ratio; decimal normalization is the caller's concern
// since it depends on the two tokens' configured decimals, not pool state).
type PoolPrice struct {
	Pool  types.PoolDescriptor
	Price *big.Rat // base->quote
}

// Prices returns poolAddress -> PoolPrice for every descriptor in pools whose snapshot is
// fresh and whose family adapter can quote it. Pools that fail to quote are omitted, not
// errored; a caller scanning many pools shouldn't abort the whole round over one bad pool.
func (f *Feed) Prices(ctx context.Context, pools []types.PoolDescriptor) (map[types.PoolKey]PoolPrice, error) {
	out := make(map[types.PoolKey]PoolPrice, len(pools))
	for _, pool := range pools {
		adapter, ok := f.adapters.For(pool.Family)
		if !ok {
			continue
		}
		snap, err := f.registry.GetSnapshot(ctx, pool)
		if err != nil {
			continue
		}
		price, err := adapter.PriceAtMargin(pool, snap)
		if err != nil {
			continue
		}
		out[pool.Key()] = PoolPrice{Pool: pool, Price: price}
	}
	return out, nil
}

// Price returns a single pool's spot price, erroring rather than silently skipping since
// the caller explicitly asked for this one pool.
func (f *Feed) Price(ctx context.Context, pool types.PoolDescriptor) (*big.Rat, error) {
	adapter, ok := f.adapters.For(pool.Family)
	if !ok {
		return nil, fmt.Errorf("no adapter for family %s: %w", pool.Family, types.ErrInsufficientPoolData)
	}
	snap, err := f.registry.GetSnapshot(ctx, pool)
	if err != nil {
		return nil, err
	}
	return adapter.PriceAtMargin(pool, snap)
}
