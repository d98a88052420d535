package poolregistry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/pkg/types"
)

type countingFetcher struct {
	calls int64
	delay time.Duration
}

func (f *countingFetcher) FetchSnapshot(ctx context.Context, pool types.PoolDescriptor) (types.PoolSnapshot, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return types.PoolSnapshot{Family: pool.Family, ReserveBase: "100", ReserveQuote: "200", ObservedAt: time.Now().UnixMilli()}, nil
}

func (f *countingFetcher) BulkFetch(ctx context.Context, pools []types.PoolDescriptor) (map[types.PoolKey]types.PoolSnapshot, error) {
	out := make(map[types.PoolKey]types.PoolSnapshot)
	for _, p := range pools {
		atomic.AddInt64(&f.calls, 1)
		out[p.Key()] = types.PoolSnapshot{Family: p.Family, ObservedAt: time.Now().UnixMilli()}
	}
	return out, nil
}

func testPool() types.PoolDescriptor {
	return types.PoolDescriptor{
		ChainID: 1, DexID: "uniswap-v2", Address: "0x0000000000000000000000000000000000000001",
		Family: types.FamilyConstantProduct,
	}
}

func TestGetSnapshotCachesWithinTTL(t *testing.T) {
	reg := New(2 * time.Second)
	fetcher := &countingFetcher{}
	reg.RegisterFetcher(types.FamilyConstantProduct, fetcher)

	pool := testPool()
	_, err := reg.GetSnapshot(context.Background(), pool)
	require.NoError(t, err)
	_, err = reg.GetSnapshot(context.Background(), pool)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestGetSnapshotRefetchesAfterInvalidate(t *testing.T) {
	reg := New(2 * time.Second)
	fetcher := &countingFetcher{}
	reg.RegisterFetcher(types.FamilyConstantProduct, fetcher)

	pool := testPool()
	_, err := reg.GetSnapshot(context.Background(), pool)
	require.NoError(t, err)

	reg.Invalidate(pool.Key())

	_, err = reg.GetSnapshot(context.Background(), pool)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}

func TestGetSnapshotCoalescesConcurrentFetches(t *testing.T) {
	reg := New(2 * time.Second)
	fetcher := &countingFetcher{delay: 50 * time.Millisecond}
	reg.RegisterFetcher(types.FamilyConstantProduct, fetcher)

	pool := testPool()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.GetSnapshot(context.Background(), pool)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestMissingFetcherReturnsInsufficientPoolData(t *testing.T) {
	reg := New(2 * time.Second)
	pool := testPool()

	_, err := reg.GetSnapshot(context.Background(), pool)
	require.Error(t, err)
}

func TestReplaceAllRemovesAbsentPools(t *testing.T) {
	reg := New(2 * time.Second)
	defer reg.Close()

	p1 := testPool()
	p2 := testPool()
	p2.Address = "0x0000000000000000000000000000000000000002"

	reg.Upsert(p1)
	reg.Upsert(p2)
	assert.Len(t, reg.PoolsForChain(1), 2)

	reg.ReplaceAll(1, []types.PoolDescriptor{p1})
	assert.Len(t, reg.PoolsForChain(1), 1)
	_, ok := reg.Descriptor(p2.Key())
	assert.False(t, ok)
}

func TestMutationsForOneChainAreSerialized(t *testing.T) {
	reg := New(2 * time.Second)
	defer reg.Close()

	pool := testPool()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Upsert(pool)
			reg.Invalidate(pool.Key())
		}()
	}
	wg.Wait()

	_, ok := reg.Descriptor(pool.Key())
	assert.True(t, ok)
}

func TestBulkRefreshPopulatesAllPools(t *testing.T) {
	reg := New(2 * time.Second)
	fetcher := &countingFetcher{}
	reg.RegisterFetcher(types.FamilyConstantProduct, fetcher)

	p1 := testPool()
	p2 := testPool()
	p2.Address = "0x0000000000000000000000000000000000000002"
	reg.Upsert(p1)
	reg.Upsert(p2)

	require.NoError(t, reg.BulkRefresh(context.Background(), 1))
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}
