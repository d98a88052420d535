// Package orchestrator implements the six-rule ordered admission pipeline: each asset, and
// the routes it generates across the chain's configured pools, must clear NOT_CONFIGURED,
// LOW_LIQ, LOW_SCORE, NO_PAIRS, NO_PROFIT, and NOT_ATOMIC in order before a PairPlan is
// publishable. Each rule is a sequential guard clause that returns on first failure, with
// a pending/validating/valid/rejected state machine layered on top.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/blackholelabs/arbengine/internal/arbsearch"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/internal/sizeoptimizer"
	"github.com/blackholelabs/arbengine/pkg/types"
)

// UnitPriceFn returns the USD price of one whole unit of a token. cmd/engine backs it with
// unitPriceFromFeed, a spot price off the engine's own pools against the token's pool
// counterparty; tests substitute a fixed-rate fake.
type UnitPriceFn func(chainID int64, tokenAddress string) decimal.Decimal

// GasEstimateFn returns the gas model inputs for one round-trip on a chain, scaled by hop
// count. cmd/engine backs it with gasParamsFromChain, which reads each chain's configured
// gas-units hint and gas-price floor and prices the native token off the engine's own pools,
// falling back to fixed constants where those are missing.
type GasEstimateFn func(chainID int64, hops int) sizeoptimizer.GasParams

type assetKey struct {
	chainID int64
	address string
}

func keyOf(a types.AssetDescriptor) assetKey {
	return assetKey{chainID: a.ChainID, address: strings.ToLower(a.Address)}
}

// ConfigSource is the read-only view of the active config snapshot the orchestrator needs.
type ConfigSource interface {
	Active() *types.ConfigSnapshot
}

// Publisher is the narrow surface AddToTrading writes through.
type Publisher interface {
	Publish(ctx context.Context, opportunity types.Opportunity) error
	Emit(ctx context.Context, eventType string, payload interface{})
}

// Orchestrator runs the admission pipeline and tracks each asset's pending/validating/
// valid/rejected state.
type Orchestrator struct {
	config    ConfigSource
	registry  *poolregistry.Registry
	scanner   *arbsearch.Scanner
	optimizer *sizeoptimizer.Optimizer
	unitPrice UnitPriceFn
	gasFn     GasEstimateFn
	publisher Publisher

	mu       sync.Mutex
	statuses map[assetKey]types.ValidationStatus
}

func New(config ConfigSource, registry *poolregistry.Registry, scanner *arbsearch.Scanner, optimizer *sizeoptimizer.Optimizer, unitPrice UnitPriceFn, gasFn GasEstimateFn, publisher Publisher) *Orchestrator {
	return &Orchestrator{
		config:    config,
		registry:  registry,
		scanner:   scanner,
		optimizer: optimizer,
		unitPrice: unitPrice,
		gasFn:     gasFn,
		publisher: publisher,
		statuses:  make(map[assetKey]types.ValidationStatus),
	}
}

// ResetAll transitions every tracked asset back to pending, required after a config swap.
func (o *Orchestrator) ResetAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.statuses {
		o.statuses[k] = types.StatusPending
	}
}

// Status returns the asset's current admission state; the zero value means the asset has
// never been seen and is treated as pending.
func (o *Orchestrator) Status(asset types.AssetDescriptor) types.ValidationStatus {
	return o.status(asset)
}

func (o *Orchestrator) status(asset types.AssetDescriptor) types.ValidationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statuses[keyOf(asset)]
}

func (o *Orchestrator) setStatus(asset types.AssetDescriptor, s types.ValidationStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[keyOf(asset)] = s
}

// Validate runs the six ordered rules against asset, returning on the first rule that
// blocks. It is deterministic: identical snapshot and config always yield the same result,
// since every rule is a pure function of its inputs.
func (o *Orchestrator) Validate(ctx context.Context, asset types.AssetDescriptor) types.ValidationResult {
	o.setStatus(asset, types.StatusValidating)

	snapshot := o.config.Active()
	if snapshot == nil {
		return o.reject(asset, types.ReasonNotConfigured)
	}

	chain, ok := findChain(snapshot, asset.ChainID)
	if !ok || len(chain.RpcPool.Https) == 0 || len(chain.Dexes) == 0 {
		return o.reject(asset, types.ReasonNotConfigured)
	}
	if len(chain.RpcPool.Https) == 1 {
		log.Printf("[orchestrator] chain %d has a single HTTPS RPC; two are recommended for failover", chain.ChainID)
	}

	if !o.hasSufficientLiquidity(ctx, chain, asset, snapshot.Policies.TvlMinUsd) {
		return o.reject(asset, types.ReasonLowLiq)
	}

	if asset.SafetyScore < snapshot.Policies.MinSafetyScore {
		return o.reject(asset, types.ReasonLowScore)
	}

	candidates := o.candidatesFor(ctx, chain, asset, snapshot.Policies, snapshot.Risk)
	if len(candidates) == 0 {
		return o.reject(asset, types.ReasonNoPairs)
	}

	grid := chain.EffectiveSizeGrid(snapshot.Policies.SizeGrid)
	plans, blockedOnAtomicity := o.optimizeAll(ctx, candidates, snapshot.Policies, grid, chain.ChainID)
	if len(plans) == 0 {
		if blockedOnAtomicity {
			return o.reject(asset, types.ReasonNotAtomic)
		}
		return o.reject(asset, types.ReasonNoProfit)
	}

	o.setStatus(asset, types.StatusValid)
	return types.ValidationResult{Valid: true, Pairs: plans}
}

func (o *Orchestrator) reject(asset types.AssetDescriptor, reason types.BlockReason) types.ValidationResult {
	o.setStatus(asset, types.StatusRejected)
	return types.ValidationResult{Valid: false, Reason: reason}
}

func findChain(snapshot *types.ConfigSnapshot, chainID int64) (types.ChainConfig, bool) {
	for _, c := range snapshot.Chains {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return types.ChainConfig{}, false
}

// hasSufficientLiquidity implements the LOW_LIQ rule: at least one pool touching asset must
// carry liquidity (converted to USD via unitPrice) at or above tvlMinUsd. With no price
// function wired the rule is vacuously satisfied, matching the size optimizer's own
// fallback when run without a price feed.
func (o *Orchestrator) hasSufficientLiquidity(ctx context.Context, chain types.ChainConfig, asset types.AssetDescriptor, tvlMinUsd float64) bool {
	if o.unitPrice == nil {
		return true
	}
	price := o.unitPrice(asset.ChainID, asset.Address)
	for _, pool := range chain.Pools {
		if !strings.EqualFold(pool.Base, asset.Address) && !strings.EqualFold(pool.Quote, asset.Address) {
			continue
		}
		snap, err := o.registry.GetSnapshot(ctx, pool)
		if err != nil {
			continue
		}
		usd, _ := decimal.NewFromFloat(liquidityMagnitude(snap)).Mul(price).Float64()
		if usd >= tvlMinUsd {
			return true
		}
	}
	return false
}

// liquidityMagnitude estimates a pool's depth from its family-tagged snapshot, the same
// proxy arbsearch.Candidate uses for route tie-breaks: never a profit input, only a coarse
// ranking/threshold signal.
func liquidityMagnitude(snap types.PoolSnapshot) float64 {
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
	default:
		return toFloat(snap.ReserveBase) + toFloat(snap.ReserveQuote)
	}
}

// candidatesFor implements the NO_PAIRS rule's positive side: generate pair candidates for
// asset against the quote-set, then scan the chain's configured pools for routes serving one
// of those pairs within the policy's hop bounds and with a positive gross edge. Assets the
// risk policy screens out (blocklisted, tax-like, disallowed bridged variants) generate no
// candidates at all.
func (o *Orchestrator) candidatesFor(ctx context.Context, chain types.ChainConfig, asset types.AssetDescriptor, policies types.Policies, risk types.Risk) []arbsearch.Candidate {
	if !risk.Admissible(asset) {
		return nil
	}
	pairs := quoteCandidates(chain, asset, policies.QuoteSymbols, risk)

	all := o.scanner.Scan(ctx, chain.ChainID, chain.Pools)

	var out []arbsearch.Candidate
	for _, c := range all {
		if c.Hops() < policies.MinHops || c.Hops() > policies.MaxHops {
			continue
		}
		if c.EstGrossBps <= 0 {
			continue
		}
		if !touchesAsset(c, asset.Address) {
			continue
		}
		if !servesPair(c, pairs) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// quoteCandidates generates the PairCandidates for asset against the quote-set, resolved
// through the chain's configured assets. Quote tokens the risk policy screens out are
// excluded. When the chain carries no symbol information for any quote token the set is
// empty, and servesPair treats that as unrestricted rather than blocking everything a
// sparsely configured chain could trade.
func quoteCandidates(chain types.ChainConfig, asset types.AssetDescriptor, quoteSymbols []string, risk types.Risk) []types.PairCandidate {
	inSet := func(symbol string) bool {
		for _, q := range quoteSymbols {
			if strings.EqualFold(q, symbol) {
				return true
			}
		}
		return false
	}

	var pairs []types.PairCandidate
	for _, quote := range chain.Assets {
		if strings.EqualFold(quote.Address, asset.Address) {
			continue
		}
		if !inSet(quote.Symbol) || !risk.Admissible(quote) {
			continue
		}
		pairs = append(pairs, types.PairCandidate{
			ChainID:  chain.ChainID,
			TokenIn:  strings.ToLower(asset.Address),
			TokenOut: strings.ToLower(quote.Address),
		})
	}
	return pairs
}

// servesPair reports whether the candidate's route passes through the quote token of at
// least one generated pair. An empty pair set means the chain config carries no resolvable
// quote assets; the route is accepted on the asset-touch check alone.
func servesPair(c arbsearch.Candidate, pairs []types.PairCandidate) bool {
	if len(pairs) == 0 {
		return true
	}
	for _, p := range pairs {
		for _, t := range c.TokenPath {
			if strings.EqualFold(t, p.TokenOut) {
				return true
			}
		}
	}
	return false
}

func touchesAsset(c arbsearch.Candidate, address string) bool {
	for _, t := range c.TokenPath {
		if strings.EqualFold(t, address) {
			return true
		}
	}
	return false
}

// optimizeAll runs NO_PROFIT/NOT_ATOMIC screening for every candidate via the size
// optimizer, returning every publishable plan found. blockedOnAtomicity distinguishes "some
// route was profitable but not atomic" from "nothing was profitable at all", so Validate can
// report the more specific of the two remaining rejection reasons.
func (o *Orchestrator) optimizeAll(ctx context.Context, candidates []arbsearch.Candidate, policies types.Policies, grid types.SizeGrid, chainID int64) ([]*types.PairPlan, bool) {
	var plans []*types.PairPlan
	blockedOnAtomicity := false
	for _, c := range candidates {
		gas := sizeoptimizer.GasParams{GasUnitsHint: 150000, GasPriceGwei: 5, NativePriceUsd: 0}
		if o.gasFn != nil {
			gas = o.gasFn(chainID, c.Hops())
		}
		plan, _ := o.optimizer.Optimize(ctx, c, grid, policies, gas)
		if plan == nil {
			continue
		}
		if plan.IsPublishable(policies.RoiMinBps) {
			plans = append(plans, plan)
		} else if contains(plan.ReasonsBlock, "NOT_ATOMIC") {
			blockedOnAtomicity = true
		}
	}
	return plans, blockedOnAtomicity && len(plans) == 0
}

// opportunityID derives a deterministic id from (chainId, sorted pools, quantized amountIn,
// observed block), so the same route rediscovered at a near-identical size within the same
// block dedups in the publisher instead of re-alerting.
func opportunityID(asset types.AssetDescriptor, p *types.PairPlan) string {
	pools := make([]string, 0, len(p.PoolsUsed))
	for _, pool := range p.PoolsUsed {
		pools = append(pools, pool.DexID+":"+strings.ToLower(pool.Address))
	}
	sort.Strings(pools)
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%d", asset.ChainID, strings.Join(pools, ","), quantizeAmount(p.AmountIn), p.ObservedBlock)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// quantizeAmount keeps an amount's two leading digits and zeroes the rest, so jittered
// re-optimizations of essentially the same size map to one id.
func quantizeAmount(s string) string {
	if len(s) <= 2 {
		return s
	}
	return s[:2] + strings.Repeat("0", len(s)-2)
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// AddToTrading publishes the plans for asset, which must currently be valid. Fails with
// ErrNotValidated otherwise.
func (o *Orchestrator) AddToTrading(ctx context.Context, asset types.AssetDescriptor, pairs []*types.PairPlan) error {
	if o.status(asset) != types.StatusValid {
		return fmt.Errorf("asset %s on chain %d is not valid: %w", asset.Symbol, asset.ChainID, types.ErrNotValidated)
	}
	for _, p := range pairs {
		if !p.IsPublishable(0) {
			continue
		}
		opp := types.Opportunity{
			ID:           opportunityID(asset, p),
			ChainID:      asset.ChainID,
			BaseToken:    asset.Address,
			QuoteToken:   p.QuoteToken,
			AmountIn:     p.AmountIn,
			EstProfitUsd: p.EstProfitUsd,
			GasUsd:       p.EstGasUsd,
		}
		if len(p.Route) > 0 {
			opp.DexIn = p.Route[0]
			opp.DexOut = p.Route[len(p.Route)-1]
		}
		if err := o.publisher.Publish(ctx, opp); err != nil {
			return err
		}
	}
	o.publisher.Emit(ctx, "asset.validated", map[string]interface{}{"asset": asset})
	return nil
}
