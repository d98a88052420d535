package types

// PairPlan is an admitted (or blocked-and-recorded) candidate route.
type PairPlan struct {
	Route          []string  `json:"route"` // dexId per hop, length 2 or 3
	Hops           int       `json:"hops"`
	EstGrossBps    float64   `json:"estGrossBps"`
	EstSlippageBps float64   `json:"estSlippageBps"`
	EstGasUsd      float64   `json:"estGasUsd"`
	EstProfitBps   float64   `json:"estProfitBps"` // EstGrossBps - gasSafetyBps; EstSlippageBps is reported, not subtracted
	EstProfitUsd   float64   `json:"estProfitUsd"` // net profit at AmountIn, in USD, after gas
	AmountIn       string    `json:"amountIn"`     // decimal string, wei-exact, the optimized trade size
	QuoteToken     string    `json:"quoteToken"`   // the non-starting token address on the route, empty for single-token loops
	Atomic         bool      `json:"atomic"`
	PoolsUsed      []PoolRef `json:"poolsUsed"`
	ObservedBlock  uint64    `json:"observedBlock,omitempty"` // highest block among the route's snapshots
	ReasonsBlock   []string  `json:"reasonsBlock,omitempty"`
}

// IsPublishable reports the invariant required of any plan handed to the publisher:
// profit clears the configured floor and the route executes atomically.
func (p *PairPlan) IsPublishable(roiMinBps float64) bool {
	return p.EstProfitBps >= roiMinBps && p.Atomic
}

// Opportunity is a deduplicated, size-optimized arbitrage instance ready for publication.
type Opportunity struct {
	ID           string  `json:"id"` // deterministic hash of (chainId, sorted pools, quantized amountIn, blockNumber)
	ChainID      int64   `json:"chainId"`
	DexIn        string  `json:"dexIn"`
	DexOut       string  `json:"dexOut"`
	BaseToken    string  `json:"baseToken"`
	QuoteToken   string  `json:"quoteToken"`
	AmountIn     string  `json:"amountIn"` // decimal string, wei-exact
	EstProfitUsd float64 `json:"estProfitUsd"`
	GasUsd       float64 `json:"gasUsd"`
	Ts           int64   `json:"ts"` // epoch-ms
}
