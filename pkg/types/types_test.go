package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDescriptorValidate(t *testing.T) {
	p := PoolDescriptor{
		ChainID: 1,
		DexID:   "uniswap-v2",
		Address: "0x0000000000000000000000000000000000000001",
		FeeBps:  30,
		Family:  FamilyConstantProduct,
	}
	require.NoError(t, p.Validate())

	bad := p
	bad.FeeBps = 10001
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigInvalid))

	bad2 := p
	bad2.Family = "made-up"
	assert.Error(t, bad2.Validate())

	bad3 := p
	bad3.Address = "not-an-address"
	assert.Error(t, bad3.Validate())
}

func TestPoolDescriptorShortLabelIsDisplayOnly(t *testing.T) {
	p := PoolDescriptor{DexID: "uniswap-v2", Address: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"}
	label := p.ShortLabel()
	assert.Contains(t, label, "uniswap-v2")
	assert.Contains(t, label, "efabcd")

	// Two distinct pools must never collide on Key(), regardless of their short labels.
	q := PoolDescriptor{DexID: "uniswap-v2", Address: "0x1111111111111111111111111111111111abcd"}
	assert.NotEqual(t, p.Key(), q.Key())
}

func TestPoolSnapshotIsStale(t *testing.T) {
	s := PoolSnapshot{ObservedAt: 1000}
	assert.False(t, s.IsStale(1000+3900, 2000, 2.0))
	assert.True(t, s.IsStale(1000+4100, 2000, 2.0))
}

func TestAssetDescriptorValidate(t *testing.T) {
	a := AssetDescriptor{Address: "0x0000000000000000000000000000000000000001", Symbol: "USDC", SafetyScore: 80}
	require.NoError(t, a.Validate())

	a.SafetyScore = 101
	assert.Error(t, a.Validate())
}

func TestAssetDescriptorHasFlag(t *testing.T) {
	a := AssetDescriptor{Flags: []string{"bridged", "rebasing"}}
	assert.True(t, a.HasFlag("bridged"))
	assert.False(t, a.HasFlag("blocklisted"))
}

func TestPairPlanIsPublishable(t *testing.T) {
	p := PairPlan{EstProfitBps: 10, Atomic: true}
	assert.True(t, p.IsPublishable(5))
	assert.False(t, p.IsPublishable(20))

	p2 := PairPlan{EstProfitBps: 10, Atomic: false}
	assert.False(t, p2.IsPublishable(5))
}

func TestSizeGridValidate(t *testing.T) {
	g := SizeGrid{Min: 100, Max: 1000, Steps: 3}
	require.NoError(t, g.Validate())

	bad := SizeGrid{Min: 1000, Max: 100, Steps: 3}
	assert.Error(t, bad.Validate())

	bad2 := SizeGrid{Min: 100, Max: 1000, Steps: 2}
	assert.Error(t, bad2.Validate())
}

func TestConfigSnapshotSummary(t *testing.T) {
	snap := ConfigSnapshot{
		Chains: []ChainConfig{
			{Dexes: []string{"uniswap-v2", "uniswap-v3"}, Pools: []PoolDescriptor{{}, {}}},
			{Dexes: []string{"uniswap-v2", "sushiswap"}, Pools: []PoolDescriptor{{}}},
		},
	}
	sum := snap.Summary()
	assert.Equal(t, 2, sum.Chains)
	assert.Equal(t, 3, sum.Dexs) // uniswap-v2, uniswap-v3, sushiswap
	assert.Equal(t, 3, sum.Pools)
}

func TestRPCErrorIsMapsKnownCodes(t *testing.T) {
	rateLimited := &RPCError{Code: -32005, Message: "rate limited"}
	assert.True(t, errors.Is(rateLimited, ErrRateLimited))
	assert.False(t, errors.Is(rateLimited, ErrInternalNodeError))

	internal := &RPCError{Code: -32603, Message: "internal error"}
	assert.True(t, errors.Is(internal, ErrInternalNodeError))
}

func TestConfigInvalidErrorIsErrConfigInvalid(t *testing.T) {
	err := NewConfigInvalidError("feeBps", "out of range")
	assert.True(t, errors.Is(err, ErrConfigInvalid))
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrTimeout))
	assert.True(t, IsRecoverable(NewConfigInvalidError("x", "y")))
	assert.False(t, IsRecoverable(errors.New("some unrelated invariant violation")))
}

func TestRiskAdmissible(t *testing.T) {
	risk := Risk{
		Blocklists:     []string{"0x000000000000000000000000000000000000dead"},
		TaxLike:        []string{"SAFEMOON"},
		BridgedSymbols: []string{"USDC.e", "USDbC"},
	}

	clean := AssetDescriptor{Address: "0x0000000000000000000000000000000000000001", Symbol: "WETH"}
	assert.True(t, risk.Admissible(clean))

	blocked := clean
	blocked.Address = "0x000000000000000000000000000000000000DEAD"
	assert.False(t, risk.Admissible(blocked))

	taxed := clean
	taxed.Symbol = "safemoon"
	assert.False(t, risk.Admissible(taxed))

	bridged := clean
	bridged.Symbol = "USDC.e"
	assert.False(t, risk.Admissible(bridged))

	risk.AllowBridgedSymbols = true
	assert.True(t, risk.Admissible(bridged))
}
