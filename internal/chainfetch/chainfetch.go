// Package chainfetch implements poolregistry.Fetcher against live RPC endpoints, one
// fetcher per AMM family, encoding calldata and decoding eth_call results with an abi.ABI
// pulled from a shared abiset.Set. Calls pack args by method name, issue eth_call, and
// unpack outputs by method name, routed through the multi-endpoint, retrying
// rpctransport.Transport rather than a single ethclient.Client bound to one contract.
package chainfetch

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/arbengine/pkg/rpctransport"
	"github.com/blackholelabs/arbengine/pkg/rpctransport/abiset"
	"github.com/blackholelabs/arbengine/pkg/types"
)

// ABI keys the default fragments below are registered under. A dex wired with its own
// Hardhat artifact (via abiset.LoadFromHardhatArtifact) can reuse these keys to override
// the built-in minimal ABI with the real one.
const (
	ConstantProductABIKey = "constantProduct"
	ConcentratedABIKey    = "concentrated"
	StableSwapABIKey      = "stableSwap"
	WeightedABIKey        = "weighted"
)

// Minimal read-only ABI fragments for the state each family needs. These cover the
// standard Uniswap v2 / v3, Curve, and Balancer-style surfaces; a dex with a nonstandard
// ABI registers its own artifact under the same key at wiring time.
const (
	constantProductABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"_reserve0","type":"uint112"},{"name":"_reserve1","type":"uint112"},{"name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"}]`

	concentratedABIJSON = `[{"constant":true,"inputs":[],"name":"slot0","outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"liquidity","outputs":[{"name":"","type":"uint128"}],"stateMutability":"view","type":"function"}]`

	stableSwapABIJSON = `[{"constant":true,"inputs":[{"name":"arg0","type":"uint256"}],"name":"balances","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"A","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	weightedABIJSON = `[{"constant":true,"inputs":[{"name":"poolId","type":"bytes32"}],"name":"getPoolTokens","outputs":[{"name":"tokens","type":"address[]"},{"name":"balances","type":"uint256[]"},{"name":"lastChangeBlock","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"getNormalizedWeights","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`
)

// RegisterDefaultABIs parses and registers the four built-in fragments into set under
// their family keys. Call once during engine wiring before constructing the per-family
// fetchers below; a dex that needs its real ABI can call set.LoadFromHardhatArtifact with
// the same key afterward to override a fragment.
func RegisterDefaultABIs(set *abiset.Set) error {
	fragments := map[string]string{
		ConstantProductABIKey: constantProductABIJSON,
		ConcentratedABIKey:    concentratedABIJSON,
		StableSwapABIKey:      stableSwapABIJSON,
		WeightedABIKey:        weightedABIJSON,
	}
	for key, raw := range fragments {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			return fmt.Errorf("chainfetch: parsing default abi %s: %w", key, err)
		}
		set.Register(key, parsed)
	}
	return nil
}

// RPCFetcher implements poolregistry.Fetcher for one AMM family, reading pool state over
// rpctransport.Transport.
type RPCFetcher struct {
	transport *rpctransport.Transport
	abis      *abiset.Set
	family    types.Family
	abiKey    string
	nowFn     func() int64
}

// NewConstantProductFetcher reads getReserves() (Uniswap v2-style two-asset pools).
func NewConstantProductFetcher(t *rpctransport.Transport, set *abiset.Set, nowFn func() int64) *RPCFetcher {
	return &RPCFetcher{transport: t, abis: set, family: types.FamilyConstantProduct, abiKey: ConstantProductABIKey, nowFn: nowFn}
}

// NewConcentratedFetcher reads slot0() and liquidity() (Uniswap v3-style tick pools).
func NewConcentratedFetcher(t *rpctransport.Transport, set *abiset.Set, nowFn func() int64) *RPCFetcher {
	return &RPCFetcher{transport: t, abis: set, family: types.FamilyConcentrated, abiKey: ConcentratedABIKey, nowFn: nowFn}
}

// NewStableSwapFetcher reads balances(0), balances(1), and A() (Curve-style pools).
func NewStableSwapFetcher(t *rpctransport.Transport, set *abiset.Set, nowFn func() int64) *RPCFetcher {
	return &RPCFetcher{transport: t, abis: set, family: types.FamilyStableSwap, abiKey: StableSwapABIKey, nowFn: nowFn}
}

// NewWeightedFetcher reads getPoolTokens() and getNormalizedWeights() (Balancer-style
// pools). PoolDescriptor carries a single address; this models that address as the read
// target for both calls, since the engine's pool model has no separate vault address
// field. A deployment against a real Balancer vault would split that out.
func NewWeightedFetcher(t *rpctransport.Transport, set *abiset.Set, nowFn func() int64) *RPCFetcher {
	return &RPCFetcher{transport: t, abis: set, family: types.FamilyWeighted, abiKey: WeightedABIKey, nowFn: nowFn}
}

func (f *RPCFetcher) FetchSnapshot(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	switch f.family {
	case types.FamilyConstantProduct:
		return f.fetchConstantProduct(ctx, pool)
	case types.FamilyConcentrated:
		return f.fetchConcentrated(ctx, pool)
	case types.FamilyStableSwap:
		return f.fetchStableSwap(ctx, pool)
	case types.FamilyWeighted:
		return f.fetchWeighted(ctx, pool)
	default:
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: unsupported family %s: %w", f.family, types.ErrInsufficientPoolData)
	}
}

// BulkFetch fetches every pool independently, best-effort: a pool whose call fails is
// logged and skipped rather than failing the whole batch, since one bad pool should never
// blind the scanner to the rest of the chain. An error is returned only when every pool
// in the batch failed.
func (f *RPCFetcher) BulkFetch(ctx context.Context, pools []types.PoolDescriptor) (map[types.PoolKey]types.PoolSnapshot, error) {
	out := make(map[types.PoolKey]types.PoolSnapshot, len(pools))
	var lastErr error
	for _, pool := range pools {
		snap, err := f.FetchSnapshot(ctx, pool)
		if err != nil {
			lastErr = err
			log.Printf("[chainfetch] bulk fetch %s failed: %v", pool.ShortLabel(), err)
			continue
		}
		out[pool.Key()] = snap
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("chainfetch: bulk fetch for family %s fetched nothing: %w", f.family, lastErr)
	}
	return out, nil
}

func (f *RPCFetcher) abi() (abi.ABI, error) {
	a, ok := f.abis.Get(f.abiKey)
	if !ok {
		return abi.ABI{}, fmt.Errorf("chainfetch: no abi registered for %s: %w", f.abiKey, types.ErrInsufficientPoolData)
	}
	return a, nil
}

// call packs the calldata for method/args, issues an eth_call against pool.Address, and
// returns the raw decoded response bytes.
func (f *RPCFetcher) call(ctx context.Context, a abi.ABI, pool types.PoolDescriptor, method string, args ...interface{}) ([]byte, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chainfetch: packing %s for %s: %w", method, pool.ShortLabel(), err)
	}
	callMsg := map[string]interface{}{
		"to":   pool.Address,
		"data": "0x" + common.Bytes2Hex(data),
	}
	val, err := f.transport.Call(ctx, pool.ChainID, "eth_call", callMsg, "latest")
	if err != nil {
		return nil, fmt.Errorf("chainfetch: eth_call %s to %s: %w", method, pool.ShortLabel(), err)
	}
	hexStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("chainfetch: eth_call %s to %s: unexpected result type %T: %w", method, pool.ShortLabel(), val, types.ErrDecode)
	}
	return abiset.Hex2Bytes(hexStr), nil
}

func (f *RPCFetcher) fetchConstantProduct(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	a, err := f.abi()
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	raw, err := f.call(ctx, a, pool, "getReserves")
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	outs, err := a.Unpack("getReserves", raw)
	if err != nil || len(outs) != 3 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getReserves for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	reserve0, ok0 := outs[0].(*big.Int)
	reserve1, ok1 := outs[1].(*big.Int)
	if !ok0 || !ok1 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getReserves for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	return types.PoolSnapshot{
		Family:       types.FamilyConstantProduct,
		ReserveBase:  reserve0.String(),
		ReserveQuote: reserve1.String(),
		ObservedAt:   f.nowFn(),
		Source:       "rpc",
	}, nil
}

func (f *RPCFetcher) fetchConcentrated(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	a, err := f.abi()
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	slot0Raw, err := f.call(ctx, a, pool, "slot0")
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	liqRaw, err := f.call(ctx, a, pool, "liquidity")
	if err != nil {
		return types.PoolSnapshot{}, err
	}

	slot0Outs, err := a.Unpack("slot0", slot0Raw)
	if err != nil || len(slot0Outs) < 2 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding slot0 for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	sqrtPriceX96, ok0 := slot0Outs[0].(*big.Int)
	tick, ok1 := slot0Outs[1].(*big.Int)
	if !ok0 || !ok1 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding slot0 for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}

	liqOuts, err := a.Unpack("liquidity", liqRaw)
	if err != nil || len(liqOuts) != 1 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding liquidity for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	liquidity, ok := liqOuts[0].(*big.Int)
	if !ok {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding liquidity for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}

	return types.PoolSnapshot{
		Family:       types.FamilyConcentrated,
		SqrtPriceX96: sqrtPriceX96.String(),
		Liquidity:    liquidity.String(),
		Tick:         int32(tick.Int64()),
		ObservedAt:   f.nowFn(),
		Source:       "rpc",
	}, nil
}

func (f *RPCFetcher) fetchStableSwap(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	a, err := f.abi()
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	bal0Raw, err := f.call(ctx, a, pool, "balances", big.NewInt(0))
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	bal1Raw, err := f.call(ctx, a, pool, "balances", big.NewInt(1))
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	ampRaw, err := f.call(ctx, a, pool, "A")
	if err != nil {
		return types.PoolSnapshot{}, err
	}

	bal0, err := unpackSingleBigInt(a, "balances", bal0Raw)
	if err != nil {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding balances(0) for %s: %w", pool.ShortLabel(), err)
	}
	bal1, err := unpackSingleBigInt(a, "balances", bal1Raw)
	if err != nil {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding balances(1) for %s: %w", pool.ShortLabel(), err)
	}
	amp, err := unpackSingleBigInt(a, "A", ampRaw)
	if err != nil {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding A() for %s: %w", pool.ShortLabel(), err)
	}

	return types.PoolSnapshot{
		Family:                   types.FamilyStableSwap,
		ReserveBase:              bal0.String(),
		ReserveQuote:             bal1.String(),
		AmplificationCoefficient: amp.Int64(),
		ObservedAt:               f.nowFn(),
		Source:                   "rpc",
	}, nil
}

func (f *RPCFetcher) fetchWeighted(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	a, err := f.abi()
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	poolID := common.HexToHash(pool.Address)
	tokensRaw, err := f.call(ctx, a, pool, "getPoolTokens", poolID)
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	weightsRaw, err := f.call(ctx, a, pool, "getNormalizedWeights")
	if err != nil {
		return types.PoolSnapshot{}, err
	}

	tokensOuts, err := a.Unpack("getPoolTokens", tokensRaw)
	if err != nil || len(tokensOuts) != 3 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getPoolTokens for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	rawBalances, ok := tokensOuts[1].([]*big.Int)
	if !ok {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getPoolTokens balances for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}

	weightsOuts, err := a.Unpack("getNormalizedWeights", weightsRaw)
	if err != nil || len(weightsOuts) != 1 {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getNormalizedWeights for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}
	rawWeights, ok := weightsOuts[0].([]*big.Int)
	if !ok {
		return types.PoolSnapshot{}, fmt.Errorf("chainfetch: decoding getNormalizedWeights for %s: %w", pool.ShortLabel(), types.ErrDecode)
	}

	balances := make([]string, len(rawBalances))
	for i, b := range rawBalances {
		balances[i] = b.String()
	}
	// normalized weights are reported 1e18-scaled fixed point; the engine's pool model
	// works in plain float64 weights, matching PoolDescriptor.Weights.
	weights := make([]float64, len(rawWeights))
	oneE18 := big.NewFloat(1e18)
	for i, w := range rawWeights {
		wf := new(big.Float).SetInt(w)
		wf.Quo(wf, oneE18)
		f64, _ := wf.Float64()
		weights[i] = f64
	}

	return types.PoolSnapshot{
		Family:     types.FamilyWeighted,
		Balances:   balances,
		Weights:    weights,
		ObservedAt: f.nowFn(),
		Source:     "rpc",
	}, nil
}

func unpackSingleBigInt(a abi.ABI, method string, raw []byte) (*big.Int, error) {
	outs, err := a.Unpack(method, raw)
	if err != nil || len(outs) != 1 {
		return nil, types.ErrDecode
	}
	v, ok := outs[0].(*big.Int)
	if !ok {
		return nil, types.ErrDecode
	}
	return v, nil
}
