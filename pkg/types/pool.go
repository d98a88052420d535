package types

import "fmt"

// Family enumerates the AMM invariant families the engine knows how to quote.
type Family string

const (
	FamilyConstantProduct Family = "constantProduct"
	FamilyConcentrated    Family = "concentrated"
	FamilyStableSwap      Family = "stableSwap"
	FamilyWeighted        Family = "weighted"
)

// PoolDescriptor is the static identity of one on-chain pool. (chainId,dexId,address) is
// globally unique; (dexId,address) is unique within a chain.
type PoolDescriptor struct {
	ChainID int64  `json:"chainId" yaml:"chainId"`
	DexID   string `json:"dexId" yaml:"dexId"`
	Address string `json:"address" yaml:"address"` // lowercase hex, 0x-prefixed

	Base    string `json:"base" yaml:"base"`   // lowercase hex token address
	Quote   string `json:"quote" yaml:"quote"` // lowercase hex token address
	FeeBps  int    `json:"feeBps" yaml:"feeBps"`
	Family  Family `json:"family" yaml:"family"`

	// Family-specific parameters; zero-valued when not applicable to Family.
	TickSpacing     int       `json:"tickSpacing,omitempty" yaml:"tickSpacing,omitempty"`
	Amplification   int       `json:"amplification,omitempty" yaml:"amplification,omitempty"`
	Weights         []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	FlashLoanReady  bool      `json:"flashLoanReady,omitempty" yaml:"flashLoanReady,omitempty"`
}

// Key returns the (chainId,dexId,address) tuple as a comparable map key.
func (p *PoolDescriptor) Key() PoolKey {
	return PoolKey{ChainID: p.ChainID, DexID: p.DexID, Address: p.Address}
}

// ShortLabel is a display-only abbreviation of the pool's address, e.g. for log lines and
// UI summaries. It is never used for equality or as a map key; callers must use Key() for
// that. Mirrors the common "show the last 6 hex chars" convention for addresses.
func (p *PoolDescriptor) ShortLabel() string {
	a := p.Address
	if len(a) <= 6 {
		return a
	}
	return fmt.Sprintf("%s…%s", p.DexID, a[len(a)-6:])
}

func (p *PoolDescriptor) Validate() error {
	if p.ChainID <= 0 {
		return NewConfigInvalidError("chainId", "must be positive")
	}
	if p.DexID == "" {
		return NewConfigInvalidError("dexId", "must not be empty")
	}
	if len(p.Address) != 42 || p.Address[:2] != "0x" {
		return NewConfigInvalidError("address", fmt.Sprintf("pool %s/%s: expected 40-hex 0x-prefixed address", p.DexID, p.Address))
	}
	if p.FeeBps < 0 || p.FeeBps > 10000 {
		return NewConfigInvalidError("feeBps", fmt.Sprintf("pool %s: feeBps %d out of [0,10000]", p.ShortLabel(), p.FeeBps))
	}
	switch p.Family {
	case FamilyConstantProduct, FamilyConcentrated, FamilyStableSwap, FamilyWeighted:
	default:
		return NewConfigInvalidError("family", fmt.Sprintf("pool %s: unknown family %q", p.ShortLabel(), p.Family))
	}
	return nil
}

// PoolKey is the comparable identity of a pool, usable as a map key.
type PoolKey struct {
	ChainID int64
	DexID   string
	Address string
}

// PoolRef is a lightweight reference to a pool used inside routes/plans, avoiding carrying
// full descriptors through the search hot path.
type PoolRef struct {
	ChainID int64  `json:"chainId"`
	DexID   string `json:"dexId"`
	Address string `json:"address"`
}

// PoolSnapshot is family-tagged mutable pool state observed at a point in time. Exactly one
// of the family-specific fields is populated, matching Family on the owning PoolDescriptor.
// A snapshot is built atomically from a single RPC response; it is never partially updated.
type PoolSnapshot struct {
	Family Family `json:"family"`

	// constantProduct
	ReserveBase  string `json:"reserveBase,omitempty"`  // decimal string, wei-exact
	ReserveQuote string `json:"reserveQuote,omitempty"` // decimal string, wei-exact
	BlockNumber  uint64 `json:"blockNumber,omitempty"`

	// concentrated
	SqrtPriceX96 string `json:"sqrtPriceX96,omitempty"` // decimal string
	Liquidity    string `json:"liquidity,omitempty"`    // decimal string
	Tick         int32  `json:"tick,omitempty"`

	// stableSwap (also uses ReserveBase/ReserveQuote as the two-asset balance pair)
	AmplificationCoefficient int64 `json:"amplificationCoefficient,omitempty"`

	// weighted
	Balances []string  `json:"balances,omitempty"` // decimal strings, wei-exact, parallel to Weights
	Weights  []float64 `json:"weights,omitempty"`

	ObservedAt int64  `json:"observedAt"` // monotonic ms
	Source     string `json:"source"`     // endpoint id that produced this snapshot
}

// IsStale reports whether the snapshot is older than the given TTL multiple, per the
// "stale snapshots (older than 2x TTL) are skipped" search edge-case policy.
func (s *PoolSnapshot) IsStale(nowMs int64, ttlMs int64, staleMultiple float64) bool {
	age := nowMs - s.ObservedAt
	return float64(age) > staleMultiple*float64(ttlMs)
}
