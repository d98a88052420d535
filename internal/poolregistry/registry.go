// Package poolregistry owns the (chainId,dexId,address) -> PoolDescriptor map and a
// TTL'd, singleflight-coalesced snapshot cache. Every mutation runs on a single writer
// goroutine per chain, so per-chain updates are totally ordered and writers never contend;
// readers take only a read lock.
package poolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/blackholelabs/arbengine/pkg/types"
)

const DefaultTTL = 2 * time.Second

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbengine",
		Subsystem: "poolregistry",
		Name:      "cache_hits_total",
		Help:      "Snapshot cache hits by chain.",
	}, []string{"chain_id"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbengine",
		Subsystem: "poolregistry",
		Name:      "cache_misses_total",
		Help:      "Snapshot cache misses by chain.",
	}, []string{"chain_id"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}

// Fetcher performs the actual RPC read for a single pool's current state. Implementations
// live in internal/chainfetch and call through pkg/rpctransport.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error)
	BulkFetch(ctx context.Context, pools []types.PoolDescriptor) (map[types.PoolKey]types.PoolSnapshot, error)
}

type entry struct {
	snapshot types.PoolSnapshot
	fetchAt  int64 // ms, when the snapshot was cached
}

// Registry is the single owner of pool descriptors and snapshots. Mutation of either map
// happens only on the owning chain's writer goroutine; snapshot reads go through
// GetSnapshot, which serves from cache or coalesces into the in-flight fetch via
// singleflight.
type Registry struct {
	ttl time.Duration

	mu          sync.RWMutex
	descriptors map[types.PoolKey]types.PoolDescriptor
	snapshots   map[types.PoolKey]entry

	group singleflight.Group

	fetchersMu sync.RWMutex
	fetchers   map[types.Family]Fetcher

	writersMu sync.Mutex
	writers   map[int64]*chainWriter

	nowFn func() int64
}

func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:         ttl,
		descriptors: make(map[types.PoolKey]types.PoolDescriptor),
		snapshots:   make(map[types.PoolKey]entry),
		fetchers:    make(map[types.Family]Fetcher),
		writers:     make(map[int64]*chainWriter),
		nowFn:       func() int64 { return time.Now().UnixMilli() },
	}
}

// writerFor returns chainID's writer goroutine, starting it on first use.
func (r *Registry) writerFor(chainID int64) *chainWriter {
	r.writersMu.Lock()
	defer r.writersMu.Unlock()
	w, ok := r.writers[chainID]
	if !ok {
		w = newChainWriter()
		r.writers[chainID] = w
	}
	return w
}

// Close stops every chain's writer goroutine, draining queued mutations first.
func (r *Registry) Close() {
	r.writersMu.Lock()
	defer r.writersMu.Unlock()
	for id, w := range r.writers {
		w.stop()
		delete(r.writers, id)
	}
}

// RegisterFetcher wires a per-family adapter fetcher. Called once during engine wiring.
func (r *Registry) RegisterFetcher(family types.Family, f Fetcher) {
	r.fetchersMu.Lock()
	defer r.fetchersMu.Unlock()
	r.fetchers[family] = f
}

func (r *Registry) fetcherFor(family types.Family) (Fetcher, error) {
	r.fetchersMu.RLock()
	defer r.fetchersMu.RUnlock()
	f, ok := r.fetchers[family]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for family %s: %w", family, types.ErrInsufficientPoolData)
	}
	return f, nil
}

// Upsert creates or replaces a pool descriptor, as happens on config hydration. The write
// runs on the pool's chain writer; it does not touch the cached snapshot.
func (r *Registry) Upsert(pool types.PoolDescriptor) {
	r.writerFor(pool.ChainID).submit(func() { r.applyUpsert(pool) })
}

func (r *Registry) applyUpsert(pool types.PoolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[pool.Key()] = pool
}

// Remove drops a pool descriptor and its cached snapshot, as happens on config swap when a
// pool is absent from the new snapshot.
func (r *Registry) Remove(key types.PoolKey) {
	r.writerFor(key.ChainID).submit(func() { r.applyRemove(key) })
}

func (r *Registry) applyRemove(key types.PoolKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.descriptors, key)
	delete(r.snapshots, key)
}

// ReplaceAll swaps chainID's full descriptor set to newPools in one writer turn, removing
// every descriptor absent from the new set along with its cached snapshot; pools dropped by
// a config swap are destroyed here.
func (r *Registry) ReplaceAll(chainID int64, newPools []types.PoolDescriptor) {
	r.writerFor(chainID).submit(func() {
		keep := make(map[types.PoolKey]bool, len(newPools))
		for _, p := range newPools {
			keep[p.Key()] = true
			r.applyUpsert(p)
		}
		for _, existing := range r.PoolsForChain(chainID) {
			if !keep[existing.Key()] {
				r.applyRemove(existing.Key())
			}
		}
	})
}

// Descriptor returns the registered descriptor for key, if any.
func (r *Registry) Descriptor(key types.PoolKey) (types.PoolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[key]
	return d, ok
}

// PoolsForChain returns all descriptors registered for a chain, for bulkRefresh/search.
func (r *Registry) PoolsForChain(chainID int64) []types.PoolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.PoolDescriptor
	for _, d := range r.descriptors {
		if d.ChainID == chainID {
			out = append(out, d)
		}
	}
	return out
}

// GetSnapshot returns the cached snapshot if within TTL; otherwise fetches via the pool's
// family fetcher and upserts the result. Concurrent callers for the same key coalesce into
// one fetch (at-most-one-inflight per key).
func (r *Registry) GetSnapshot(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	key := pool.Key()

	r.mu.RLock()
	e, ok := r.snapshots[key]
	r.mu.RUnlock()

	now := r.nowFn()
	chainLabel := fmt.Sprintf("%d", pool.ChainID)
	if ok && now-e.fetchAt < r.ttl.Milliseconds() {
		cacheHits.WithLabelValues(chainLabel).Inc()
		return e.snapshot, nil
	}
	cacheMisses.WithLabelValues(chainLabel).Inc()

	sfKey := fmt.Sprintf("%d|%s|%s", key.ChainID, key.DexID, key.Address)
	val, err, _ := r.group.Do(sfKey, func() (interface{}, error) {
		fetcher, ferr := r.fetcherFor(pool.Family)
		if ferr != nil {
			return types.PoolSnapshot{}, ferr
		}
		snap, ferr := fetcher.FetchSnapshot(ctx, pool)
		if ferr != nil {
			return types.PoolSnapshot{}, ferr
		}
		r.writerFor(pool.ChainID).submit(func() { r.applyStore(key, snap) })
		return snap, nil
	})
	if err != nil {
		return types.PoolSnapshot{}, err
	}
	return val.(types.PoolSnapshot), nil
}

func (r *Registry) applyStore(key types.PoolKey, snap types.PoolSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[key] = entry{snapshot: snap, fetchAt: r.nowFn()}
}

// Invalidate drops the cached snapshot for pool; the next GetSnapshot call refetches.
func (r *Registry) Invalidate(key types.PoolKey) {
	r.writerFor(key.ChainID).submit(func() { r.applyInvalidate(key) })
}

func (r *Registry) applyInvalidate(key types.PoolKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, key)
}

// BulkRefresh issues one batched fetch per family for every pool on chainID, as used at
// scan start. The whole refresh runs as one turn of the chain's writer, so two rounds for
// the same chain never interleave their snapshot writes.
func (r *Registry) BulkRefresh(ctx context.Context, chainID int64) error {
	var err error
	r.writerFor(chainID).submit(func() { err = r.bulkRefresh(ctx, chainID) })
	return err
}

func (r *Registry) bulkRefresh(ctx context.Context, chainID int64) error {
	pools := r.PoolsForChain(chainID)

	byFamily := make(map[types.Family][]types.PoolDescriptor)
	for _, p := range pools {
		byFamily[p.Family] = append(byFamily[p.Family], p)
	}

	for family, ps := range byFamily {
		fetcher, err := r.fetcherFor(family)
		if err != nil {
			return err
		}
		snaps, err := fetcher.BulkFetch(ctx, ps)
		if err != nil {
			return err
		}
		r.mu.Lock()
		now := r.nowFn()
		for key, snap := range snaps {
			r.snapshots[key] = entry{snapshot: snap, fetchAt: now}
		}
		r.mu.Unlock()
	}
	return nil
}
