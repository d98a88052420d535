package types

import "strings"

// SizeGrid describes the trade-size search range used by the size optimizer.
type SizeGrid struct {
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Steps int     `json:"steps" yaml:"steps"`
}

func (g *SizeGrid) Validate() error {
	if g.Min >= g.Max {
		return NewConfigInvalidError("sizeGrid", "min must be < max")
	}
	if g.Steps < 3 {
		return NewConfigInvalidError("sizeGrid.steps", "must be >= 3")
	}
	return nil
}

// Policies are the admission/profitability thresholds applied uniformly unless overridden
// per chain.
type Policies struct {
	RoiMinBps     float64  `json:"roiMinBps" yaml:"roiMinBps"`
	GasSafetyBps  float64  `json:"gasSafetyBps" yaml:"gasSafetyBps"`
	SlippageBps   float64  `json:"slippageBps" yaml:"slippageBps"`
	SizeGrid      SizeGrid `json:"sizeGrid" yaml:"sizeGrid"`
	CapPctTvl     float64  `json:"capPctTvl" yaml:"capPctTvl"`
	BundleMaxBlocks int    `json:"bundleMaxBlocks" yaml:"bundleMaxBlocks"`

	TvlMinUsd      float64 `json:"tvlMinUsd" yaml:"tvlMinUsd"`
	MinSafetyScore int     `json:"minSafetyScore" yaml:"minSafetyScore"`
	MinHops        int     `json:"minHops" yaml:"minHops"`
	MaxHops        int     `json:"maxHops" yaml:"maxHops"`

	// QuoteSymbols is the quote-set pair candidates are generated against; an asset only
	// forms a PairCandidate when the counterparty token carries one of these symbols.
	QuoteSymbols []string `json:"quoteSymbols" yaml:"quoteSymbols"`
}

// DefaultPolicies returns the engine-wide policy defaults.
func DefaultPolicies() Policies {
	return Policies{
		RoiMinBps:       5,
		GasSafetyBps:    20,
		SlippageBps:     50,
		SizeGrid:        SizeGrid{Min: 100, Max: 100000, Steps: 8},
		CapPctTvl:       0.02,
		BundleMaxBlocks: 1,
		TvlMinUsd:       1_000_000,
		MinSafetyScore:  70,
		MinHops:         2,
		MaxHops:         3,
		QuoteSymbols:    []string{"USDC", "USDT", "DAI", "WETH", "WBTC"},
	}
}

// Risk carries the blocklist/tax-detection/bridged-symbol policy for the whole snapshot.
type Risk struct {
	Blocklists         []string `json:"blocklists" yaml:"blocklists"`
	TaxLike            []string `json:"taxLike" yaml:"taxLike"`
	AllowBridgedSymbols bool    `json:"allowBridgedSymbols" yaml:"allowBridgedSymbols"`
	BridgedSymbols     []string `json:"bridgedSymbols" yaml:"bridgedSymbols"`
}

// Admissible reports whether the risk policy permits trading asset at all: its address must
// not be blocklisted, its symbol must not be tagged tax-like, and bridged variants are only
// admissible when AllowBridgedSymbols is set. The bridged check applies to every symbol in
// BridgedSymbols, not just stablecoin variants.
func (r *Risk) Admissible(asset AssetDescriptor) bool {
	for _, blocked := range r.Blocklists {
		if strings.EqualFold(blocked, asset.Address) {
			return false
		}
	}
	for _, tax := range r.TaxLike {
		if strings.EqualFold(tax, asset.Symbol) {
			return false
		}
	}
	if !r.AllowBridgedSymbols && r.IsBridged(asset.Symbol) {
		return false
	}
	return true
}

// IsBridged reports whether symbol names a bridged variant per the configured set.
func (r *Risk) IsBridged(symbol string) bool {
	for _, s := range r.BridgedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// RpcPool is the per-chain set of RPC endpoints, split by transport kind.
type RpcPool struct {
	Wss   []string `json:"wss" yaml:"wss"`
	Https []string `json:"https" yaml:"https"`
}

// ChainConfig is one chain's full config-plane entry: its descriptor, RPC pool, DEX set,
// assets, and configured pools.
type ChainConfig struct {
	ChainDescriptor `yaml:",inline"`
	RpcPool         RpcPool            `json:"rpcPool" yaml:"rpcPool"`
	Dexes           []string           `json:"dexes" yaml:"dexes"`
	Assets          []AssetDescriptor  `json:"assets" yaml:"assets"`
	Pools           []PoolDescriptor   `json:"pools" yaml:"pools"`
}

// ConfigSnapshot is the Config Plane's single immutable document. All components hold a
// read-only reference to one snapshot at a time; old snapshots are kept alive by in-flight
// operations until they complete.
type ConfigSnapshot struct {
	Version      string        `json:"version"` // ISO-8601
	Chains       []ChainConfig `json:"chains"`
	TotalChains  int           `json:"totalChains"`
	TotalDexs    int           `json:"totalDexs"`
	LastUpdated  int64         `json:"lastUpdated"` // epoch-ms
	Policies     Policies      `json:"policies"`
	Risk         Risk          `json:"risk"`
}

// Summary is the compact payload carried on config.applied and GET /engine/config/active.
type Summary struct {
	Chains int `json:"chains"`
	Dexs   int `json:"dexs"`
	Pools  int `json:"pools"`
}

func (s *ConfigSnapshot) Summary() Summary {
	pools := 0
	dexSet := map[string]struct{}{}
	for _, c := range s.Chains {
		pools += len(c.Pools)
		for _, d := range c.Dexes {
			dexSet[d] = struct{}{}
		}
	}
	return Summary{Chains: len(s.Chains), Dexs: len(dexSet), Pools: pools}
}

// ValidationReport is the config plane's validate() result: structural errors block apply,
// warnings do not.
type ValidationReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
