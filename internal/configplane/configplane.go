// Package configplane owns the engine's single versioned ConfigSnapshot: loading it from
// YAML, validating structural invariants, and swapping it into place atomically. The
// on-disk YAML is a flat document translated into engine structs at load time; snapshots
// are versioned, re-validatable, and swappable.
package configplane

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blackholelabs/arbengine/pkg/types"
)

// document is the on-disk YAML shape. It omits the snapshot's computed fields
// (TotalChains/TotalDexs/LastUpdated), which are derived at load/apply time rather than
// hand-maintained; the YAML on disk never carries derived state.
type document struct {
	Version  string             `yaml:"version"`
	Chains   []types.ChainConfig `yaml:"chains"`
	Policies types.Policies      `yaml:"policies"`
	Risk     types.Risk          `yaml:"risk"`
}

// Rebuilder is called, in registration order, with the newly validated snapshot before it
// becomes active and before config.applied is emitted. Registry/orchestrator wiring use this
// to rebuild their in-memory state synchronously, so config.applied is only ever observed
// after every dependent has already rebuilt.
type Rebuilder func(snapshot *types.ConfigSnapshot) error

// Emitter is the narrow publisher surface the config plane emits config.applied through.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload interface{})
}

// Plane owns the single active snapshot. Reads never block writers and vice versa: Active()
// loads an atomic pointer, Apply() validates and rebuilds before swapping it in.
type Plane struct {
	active     atomic.Pointer[types.ConfigSnapshot]
	rebuilders []Rebuilder
	emitter    Emitter
	nowFn      func() int64
}

func New(emitter Emitter) *Plane {
	return &Plane{emitter: emitter, nowFn: func() int64 { return time.Now().UnixMilli() }}
}

// RegisterRebuilder adds a dependent that must rebuild before a new snapshot goes active.
func (p *Plane) RegisterRebuilder(r Rebuilder) {
	p.rebuilders = append(p.rebuilders, r)
}

// Active returns the currently live snapshot, or nil if none has ever been applied.
func (p *Plane) Active() *types.ConfigSnapshot {
	return p.active.Load()
}

// Load reads and parses a YAML config document from path into an unvalidated, unapplied
// snapshot. Call Validate and then Apply to bring it live.
func Load(path string) (*types.ConfigSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	snapshot := toSnapshot(doc, time.Now().UnixMilli())
	return snapshot, nil
}

func toSnapshot(doc document, nowMs int64) *types.ConfigSnapshot {
	version := doc.Version
	if version == "" {
		version = time.UnixMilli(nowMs).UTC().Format(time.RFC3339)
	}
	policies := doc.Policies
	if len(policies.QuoteSymbols) == 0 {
		policies.QuoteSymbols = types.DefaultPolicies().QuoteSymbols
	}
	snapshot := &types.ConfigSnapshot{
		Version:     version,
		Chains:      doc.Chains,
		TotalChains: len(doc.Chains),
		LastUpdated: nowMs,
		Policies:    policies,
		Risk:        doc.Risk,
	}
	snapshot.TotalDexs = snapshot.Summary().Dexs
	return snapshot
}

// ChainDelta is a per-chain partial update accepted by Upsert: only non-nil fields replace
// the corresponding chain's data (a non-nil empty slice replaces too); everything else is
// left untouched.
type ChainDelta struct {
	ChainID int64
	Assets  []types.AssetDescriptor
	Pools   []types.PoolDescriptor
}

// Upsert returns a new snapshot with delta merged in, without mutating current or touching
// the active pointer. The caller must still call Validate/Apply to make it live, matching
// the config plane's read-modify-apply contract.
func Upsert(current *types.ConfigSnapshot, deltas []ChainDelta) *types.ConfigSnapshot {
	next := *current
	next.Chains = append([]types.ChainConfig(nil), current.Chains...)

	byChain := make(map[int64]int, len(deltas))
	for i, d := range deltas {
		byChain[d.ChainID] = i
	}
	for i, chain := range next.Chains {
		if di, ok := byChain[chain.ChainID]; ok {
			d := deltas[di]
			if d.Assets != nil {
				chain.Assets = d.Assets
			}
			if d.Pools != nil {
				chain.Pools = d.Pools
			}
			next.Chains[i] = chain
		}
	}
	next.TotalChains = len(next.Chains)
	next.TotalDexs = next.Summary().Dexs
	next.LastUpdated = next.LastUpdated + 1
	return &next
}

// Validate checks every structural invariant the snapshot must hold before it can be
// applied: per-chain, per-asset, per-pool Validate(), plus cross-chain duplicate checks and
// the policy/size-grid sanity bounds. Warnings (e.g. a chain with no configured pools) do
// not block apply.
func Validate(snapshot *types.ConfigSnapshot) types.ValidationReport {
	report := types.ValidationReport{Valid: true}

	seenChains := make(map[int64]bool)
	for i := range snapshot.Chains {
		chain := &snapshot.Chains[i]
		if seenChains[chain.ChainID] {
			report.Errors = append(report.Errors, fmt.Sprintf("duplicate chainId %d", chain.ChainID))
			report.Valid = false
			continue
		}
		seenChains[chain.ChainID] = true

		if err := chain.ChainDescriptor.Validate(); err != nil {
			report.Errors = append(report.Errors, err.Error())
			report.Valid = false
		}
		if len(chain.RpcPool.Https) == 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("chain %d: no HTTPS RPC configured", chain.ChainID))
			report.Valid = false
		} else if len(chain.RpcPool.Https) == 1 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %d: single HTTPS RPC; two recommended for failover", chain.ChainID))
		}
		if len(chain.RpcPool.Wss) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %d: no WSS RPC; event-driven snapshot invalidation disabled", chain.ChainID))
		}

		seenAssets := make(map[string]bool)
		for ai := range chain.Assets {
			asset := &chain.Assets[ai]
			if err := asset.Validate(); err != nil {
				report.Errors = append(report.Errors, err.Error())
				report.Valid = false
			}
			if seenAssets[asset.Address] {
				report.Errors = append(report.Errors, fmt.Sprintf("chain %d: duplicate asset %s", chain.ChainID, asset.Address))
				report.Valid = false
			}
			seenAssets[asset.Address] = true
		}

		seenPools := make(map[types.PoolKey]bool)
		for pi := range chain.Pools {
			pool := &chain.Pools[pi]
			if err := pool.Validate(); err != nil {
				report.Errors = append(report.Errors, err.Error())
				report.Valid = false
			}
			if seenPools[pool.Key()] {
				report.Errors = append(report.Errors, fmt.Sprintf("chain %d: duplicate pool %s", chain.ChainID, pool.ShortLabel()))
				report.Valid = false
			}
			seenPools[pool.Key()] = true
		}

		if len(chain.Pools) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("chain %d: no pools configured", chain.ChainID))
		}
	}

	if err := snapshot.Policies.SizeGrid.Validate(); err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Valid = false
	}
	if snapshot.Policies.MinHops < 2 || snapshot.Policies.MaxHops < snapshot.Policies.MinHops {
		report.Errors = append(report.Errors, "policies: minHops/maxHops out of range")
		report.Valid = false
	}

	if snapshot.Risk.AllowBridgedSymbols && len(snapshot.Risk.BridgedSymbols) == 0 {
		report.Warnings = append(report.Warnings, "risk: allowBridgedSymbols set but bridgedSymbols is empty")
	}
	if !snapshot.Risk.AllowBridgedSymbols {
		for _, chain := range snapshot.Chains {
			for _, asset := range chain.Assets {
				if snapshot.Risk.IsBridged(asset.Symbol) {
					report.Warnings = append(report.Warnings, fmt.Sprintf("chain %d: asset %s is a bridged variant and bridged symbols are disallowed; it will never be admitted", chain.ChainID, asset.Symbol))
				}
			}
		}
	}

	return report
}

// Apply validates snapshot, runs every registered rebuilder against it, and only then swaps
// it in as the active snapshot and emits config.applied. A failing rebuilder leaves the
// previous snapshot active; config.applied is never emitted for a snapshot that didn't fully
// rebuild.
func (p *Plane) Apply(ctx context.Context, snapshot *types.ConfigSnapshot) (types.ValidationReport, error) {
	report := Validate(snapshot)
	if !report.Valid {
		return report, fmt.Errorf("config snapshot %s failed validation: %w", snapshot.Version, types.ErrConfigInvalid)
	}

	for _, rebuild := range p.rebuilders {
		if err := rebuild(snapshot); err != nil {
			return report, fmt.Errorf("rebuilding for config %s: %w", snapshot.Version, err)
		}
	}

	p.active.Store(snapshot)
	if p.emitter != nil {
		p.emitter.Emit(ctx, "config.applied", snapshot.Summary())
	}
	return report, nil
}
