package types

import "fmt"

// DefaultGasUnitsHintRoundtripV2 is the default gas-units estimate for a 2-leg
// constant-product round trip, used when a chain's config omits gasUnitsHintRoundtripV2.
const DefaultGasUnitsHintRoundtripV2 uint64 = 215_000

// ChainDescriptor identifies an EVM chain the engine watches.
type ChainDescriptor struct {
	ChainID       int64    `json:"chainId" yaml:"chainId"`
	Name          string   `json:"name" yaml:"name"`
	NativeSymbol  string   `json:"nativeSymbol" yaml:"nativeSymbol"`
	WrappedNative string   `json:"wrappedNative" yaml:"wrappedNative"` // 0x-prefixed, 40 hex chars
	HTTPEndpoints []string `json:"httpEndpoints" yaml:"httpEndpoints"`
	WSEndpoints   []string `json:"wsEndpoints" yaml:"wsEndpoints"`

	// GasPriceFloorGwei is the chain's minimum gas price used by the size optimizer's gas
	// model, e.g. 15 on an L1-mainnet equivalent, 0.1 on a rollup.
	GasPriceFloorGwei float64 `json:"gasPriceFloorGwei" yaml:"gasPriceFloorGwei"`
	// GasUnitsHintRoundtripV2 is the gas-units estimate for a 2-leg constant-product round
	// trip on this chain; defaults to DefaultGasUnitsHintRoundtripV2 when zero.
	GasUnitsHintRoundtripV2 uint64 `json:"gasUnitsHintRoundtripV2,omitempty" yaml:"gasUnitsHintRoundtripV2,omitempty"`
	// SizeGrid is this chain's trade-size search range; min<max, steps>=3.
	SizeGrid SizeGrid `json:"sizeGrid" yaml:"sizeGrid"`
}

// GasUnitsHint returns GasUnitsHintRoundtripV2, defaulting it when the config left it zero.
func (c *ChainDescriptor) GasUnitsHint() uint64 {
	if c.GasUnitsHintRoundtripV2 == 0 {
		return DefaultGasUnitsHintRoundtripV2
	}
	return c.GasUnitsHintRoundtripV2
}

// Validate checks the structural invariants config-plane validation relies on. It does not
// check cross-chain uniqueness; that's the config plane's job since it sees the whole snapshot.
func (c *ChainDescriptor) Validate() error {
	if c.ChainID <= 0 {
		return NewConfigInvalidError("chainId", "must be positive")
	}
	if c.Name == "" {
		return NewConfigInvalidError("name", "must not be empty")
	}
	if len(c.WrappedNative) != 42 || c.WrappedNative[:2] != "0x" {
		return NewConfigInvalidError("wrappedNative", fmt.Sprintf("chain %d: expected 40-hex 0x-prefixed address", c.ChainID))
	}
	if (c.SizeGrid != SizeGrid{}) {
		if err := c.SizeGrid.Validate(); err != nil {
			return fmt.Errorf("chain %d: %w", c.ChainID, err)
		}
	}
	return nil
}

// EffectiveSizeGrid returns the chain's own SizeGrid if set, falling back to the
// policy-wide default otherwise (a chain config may omit sizeGrid to inherit it).
func (c *ChainDescriptor) EffectiveSizeGrid(policyDefault SizeGrid) SizeGrid {
	if (c.SizeGrid != SizeGrid{}) {
		return c.SizeGrid
	}
	return policyDefault
}
