// Package sizeoptimizer searches trade size for a candidate route, deducting AMM fees
// (implicitly, via the adapters' own quote math) and chain-indexed gas cost. A linearized
// slippage estimate is reported on the plan and checked against the policy cap, but it is
// not subtracted from profit. It produces a types.PairPlan or, if nothing clears
// the profitability floor, a nil plan with the rejection reason recorded for the caller.
package sizeoptimizer

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/blackholelabs/arbengine/internal/arbsearch"
	"github.com/blackholelabs/arbengine/internal/dexadapter"
	"github.com/blackholelabs/arbengine/internal/dexadapter/concentrated"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/pkg/types"
)

const maxTernaryIterations = 8

// GasParams is the chain-indexed gas model input:
// gasCost = gasUnitsHint * gasPriceGwei * nativePriceUsd / 1e9.
type GasParams struct {
	GasUnitsHint   uint64
	GasPriceGwei   float64
	NativePriceUsd float64
}

func (g GasParams) costUsd() decimal.Decimal {
	return decimal.NewFromInt(int64(g.GasUnitsHint)).
		Mul(decimal.NewFromFloat(g.GasPriceGwei)).
		Mul(decimal.NewFromFloat(g.NativePriceUsd)).
		Div(decimal.NewFromInt(1_000_000_000))
}

// Optimizer refines arbsearch.Candidate routes into sized, profitability-screened plans.
type Optimizer struct {
	registry         *poolregistry.Registry
	adapters         *dexadapter.Registry
	minProfitUsd     decimal.Decimal
	baseTokenPriceFn func(chainID int64, tokenAddress string) decimal.Decimal
}

// New builds an Optimizer. baseTokenPriceFn converts a quantity of the route's starting
// token into USD, so netProfit (computed in starting-token units, since circular routes
// return the same token) can be compared against a USD floor and combined with gas cost.
func New(registry *poolregistry.Registry, adapters *dexadapter.Registry, minProfitUsd decimal.Decimal, baseTokenPriceFn func(chainID int64, tokenAddress string) decimal.Decimal) *Optimizer {
	return &Optimizer{registry: registry, adapters: adapters, minProfitUsd: minProfitUsd, baseTokenPriceFn: baseTokenPriceFn}
}

// Optimize grid-searches trade size over grid, refines around the arg-max with ternary
// search, and returns the best plan found. A nil plan (with a non-empty reason) means no
// size cleared the profitability floor this round.
func (o *Optimizer) Optimize(ctx context.Context, cand arbsearch.Candidate, grid types.SizeGrid, policies types.Policies, gas GasParams) (*types.PairPlan, []string) {
	pools, err := o.resolvePools(cand)
	if err != nil {
		return nil, []string{err.Error()}
	}

	step := (grid.Max - grid.Min) / float64(grid.Steps-1)
	bestX := grid.Min
	bestProfit := negInf
	for i := 0; i < grid.Steps; i++ {
		x := grid.Min + step*float64(i)
		profit, err := o.netProfit(ctx, pools, cand, x, gas)
		if err != nil {
			continue
		}
		if profit > bestProfit {
			bestProfit = profit
			bestX = x
		}
	}
	if bestProfit == negInf {
		return nil, []string{"no size in the grid could be quoted this round"}
	}

	lo, hi := bestX-step, bestX+step
	if lo < grid.Min {
		lo = grid.Min
	}
	if hi > grid.Max {
		hi = grid.Max
	}
	for i := 0; i < maxTernaryIterations && hi-lo > 1e-6; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		p1, err1 := o.netProfit(ctx, pools, cand, m1, gas)
		p2, err2 := o.netProfit(ctx, pools, cand, m2, gas)
		switch {
		case err1 != nil && err2 != nil:
			i = maxTernaryIterations // give up refining, keep the grid optimum
		case err1 != nil:
			lo = m1
		case err2 != nil:
			hi = m2
		case p1 < p2:
			lo = m1
		default:
			hi = m2
		}
		if p1 > bestProfit {
			bestProfit, bestX = p1, m1
		}
		if p2 > bestProfit {
			bestProfit, bestX = p2, m2
		}
	}

	priceFn := o.baseTokenPriceFn
	if priceFn == nil {
		priceFn = func(int64, string) decimal.Decimal { return decimal.NewFromInt(1) }
	}
	tokenPriceUsd := priceFn(cand.ChainID, cand.TokenPath[0])
	profitUsd := decimal.NewFromFloat(bestProfit).Mul(tokenPriceUsd)
	minPnlUsd := decimal.NewFromFloat(bestX).Mul(tokenPriceUsd).Mul(decimal.NewFromFloat(policies.RoiMinBps / 10000))
	floor := decimal.Max(minPnlUsd, o.minProfitUsd)
	if profitUsd.LessThan(floor) {
		return nil, []string{"NO_PROFIT"}
	}

	// grossBps already reflects AMM-curve slippage/impact, since bestProfit came from the
	// adapters' own quote() math. The linear term is kept only as a reporting/cap signal,
	// per the resolved open question on double-counting slippage: it is never subtracted
	// from profit alongside the AMM-derived impact already folded into grossBps.
	grossBps := bestProfit / bestX * 10000
	slippageBps := linearSlippageBps(bestX, policies.SlippageBps, cand.Hops())
	atomic := isAtomic(pools)

	netProfitUsd := profitUsd.Sub(gas.costUsd())
	amountInWei, _ := big.NewFloat(bestX).Int(nil)
	var observedBlock uint64
	for _, p := range pools {
		if snap, err := o.registry.GetSnapshot(ctx, p); err == nil && snap.BlockNumber > observedBlock {
			observedBlock = snap.BlockNumber
		}
	}
	quoteToken := ""
	if len(cand.TokenPath) > 1 {
		quoteToken = cand.TokenPath[1]
	}

	plan := &types.PairPlan{
		Route:          cand.Route,
		Hops:           cand.Hops(),
		EstGrossBps:    grossBps,
		EstSlippageBps: slippageBps,
		EstGasUsd:      mustFloat(gas.costUsd()),
		EstProfitBps:   grossBps - policies.GasSafetyBps,
		EstProfitUsd:   mustFloat(netProfitUsd),
		AmountIn:       amountInWei.String(),
		QuoteToken:     quoteToken,
		Atomic:         atomic,
		PoolsUsed:      cand.PoolsUsed,
		ObservedBlock:  observedBlock,
	}
	if slippageBps >= policies.SlippageBps {
		plan.ReasonsBlock = append(plan.ReasonsBlock, "SLIPPAGE_CAP")
	}
	if !atomic {
		plan.ReasonsBlock = append(plan.ReasonsBlock, "NOT_ATOMIC")
	}
	if plan.EstProfitBps < policies.RoiMinBps {
		plan.ReasonsBlock = append(plan.ReasonsBlock, "NO_PROFIT")
	}
	return plan, plan.ReasonsBlock
}

var negInf = math.Inf(-1)

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// linearSlippageBps is the linearized slippage estimate: 0.0001 per unit of size per leg,
// capped by the configured slippageBps policy. It is reported alongside the plan and used
// as a size-viability cap, never subtracted from profit: the AMM-derived price impact
// already embedded in amountOut(x) is the real slippage signal.
func linearSlippageBps(x float64, capBps float64, hops int) float64 {
	bps := x * 0.0001 * float64(hops)
	if bps > capBps {
		return capBps
	}
	return bps
}

// isAtomic reports whether every pool in the route is on the same chain and flash-loan
// compatible.
func isAtomic(pools []types.PoolDescriptor) bool {
	if len(pools) == 0 {
		return false
	}
	chainID := pools[0].ChainID
	for _, p := range pools {
		if p.ChainID != chainID || !p.FlashLoanReady {
			return false
		}
	}
	return true
}

func (o *Optimizer) resolvePools(cand arbsearch.Candidate) ([]types.PoolDescriptor, error) {
	out := make([]types.PoolDescriptor, 0, len(cand.PoolsUsed))
	for _, ref := range cand.PoolsUsed {
		key := types.PoolKey{ChainID: ref.ChainID, DexID: ref.DexID, Address: ref.Address}
		desc, ok := o.registry.Descriptor(key)
		if !ok {
			return nil, fmt.Errorf("pool %s/%s not registered: %w", ref.DexID, ref.Address, types.ErrInsufficientPoolData)
		}
		out = append(out, desc)
	}
	return out, nil
}

// netProfit quotes the full route at size x and returns amountOut(x) - x, in the route's
// starting-token units. A failure to quote any hop (stale pool, tick-data gap, Newton
// non-convergence) drops this size for this round rather than failing the whole route.
func (o *Optimizer) netProfit(ctx context.Context, pools []types.PoolDescriptor, cand arbsearch.Candidate, x float64, gas GasParams) (float64, error) {
	amountIn, _ := big.NewFloat(x).Int(nil)
	amount := amountIn
	for i, pool := range pools {
		adapter, ok := o.adapters.For(pool.Family)
		if !ok {
			return 0, fmt.Errorf("no adapter for family %s", pool.Family)
		}
		snap, err := o.registry.GetSnapshot(ctx, pool)
		if err != nil {
			return 0, err
		}
		tokenIn := cand.TokenPath[i]
		quotePool, quoteSnap := orient(pool, snap, tokenIn)
		amount, err = adapter.Quote(quotePool, quoteSnap, amount)
		if err != nil {
			return 0, err
		}
	}
	outF, _ := new(big.Float).SetInt(amount).Float64()
	return outF - x, nil
}

// orient returns the (descriptor, snapshot) pair oriented so Base==tokenIn, flipping the
// family-specific fields when the route walks the pool quote->base. Adapters only implement
// base->quote quoting, so any hop that walks the other direction needs this reorientation.
func orient(pool types.PoolDescriptor, snap types.PoolSnapshot, tokenIn string) (types.PoolDescriptor, types.PoolSnapshot) {
	if pool.Base == tokenIn {
		return pool, snap
	}
	flipped := pool
	flipped.Base, flipped.Quote = pool.Quote, pool.Base

	fs := snap
	switch snap.Family {
	case types.FamilyConstantProduct, types.FamilyStableSwap:
		fs.ReserveBase, fs.ReserveQuote = snap.ReserveQuote, snap.ReserveBase
	case types.FamilyWeighted:
		if len(snap.Balances) >= 2 && len(snap.Weights) >= 2 {
			fs.Balances = []string{snap.Balances[1], snap.Balances[0]}
			fs.Weights = []float64{snap.Weights[1], snap.Weights[0]}
		}
	case types.FamilyConcentrated:
		sq, ok := new(big.Int).SetString(snap.SqrtPriceX96, 10)
		if ok && sq.Sign() > 0 {
			q96sq := new(big.Int).Mul(concentrated.Q96, concentrated.Q96)
			fs.SqrtPriceX96 = new(big.Int).Div(q96sq, sq).String()
		}
		fs.Tick = -snap.Tick
	}
	return flipped, fs
}
