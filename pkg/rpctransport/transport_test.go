package rpctransport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	results []interface{}
	errs    []error
	n       int
}

func (f *fakeCaller) CallContext(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

func TestCallFallsBackOnFailure(t *testing.T) {
	tr := New()
	bad := NewEndpoint("https://bad", KindHTTPS)
	good := NewEndpoint("https://good", KindHTTPS)
	// bad is already quarantined to force the good endpoint to win deterministically.
	for i := 0; i < quarantineFailureStreak; i++ {
		bad.RecordFailure()
	}
	tr.AddEndpoint(1, bad, &fakeCaller{errs: []error{errors.New("boom")}})
	tr.AddEndpoint(1, good, &fakeCaller{results: []interface{}{"ok"}})

	val, err := tr.Call(context.Background(), 1, "eth_call")
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestCallReturnsErrorWhenNoHealthyEndpoint(t *testing.T) {
	tr := New()
	ep := NewEndpoint("https://only", KindHTTPS)
	for i := 0; i < quarantineFailureStreak; i++ {
		ep.RecordFailure()
	}
	tr.AddEndpoint(1, ep, &fakeCaller{results: []interface{}{"ok"}})

	_, err := tr.Call(context.Background(), 1, "eth_call")
	require.Error(t, err)
}

func TestEndpointQuarantineAndCooldown(t *testing.T) {
	ep := NewEndpoint("https://x", KindHTTPS)
	assert.True(t, ep.Selectable())

	for i := 0; i < quarantineFailureStreak; i++ {
		ep.RecordFailure()
	}
	assert.Equal(t, StateQuarantined, ep.GetState())
	assert.False(t, ep.Selectable())
}

func TestBatchSplitsAcrossMaxBatchSize(t *testing.T) {
	tr := New()
	ep := NewEndpoint("https://x", KindHTTPS)
	caller := &fakeCaller{results: []interface{}{"v"}}
	tr.AddEndpoint(1, ep, caller)

	calls := make([]BatchItem, maxBatchSize+10)
	for i := range calls {
		calls[i] = BatchItem{Method: "eth_call"}
	}
	results, err := tr.Batch(context.Background(), 1, calls)
	require.NoError(t, err)
	assert.Len(t, results, len(calls))
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, "v", r.Value)
	}
}

type fakeBatchCaller struct {
	fakeCaller
	batchCalls int
	lastBatch  []BatchItem
}

func (f *fakeBatchCaller) BatchCallContext(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	f.batchCalls++
	f.lastBatch = items
	out := make([]BatchResult, len(items))
	for i := range items {
		out[i] = BatchResult{Value: "batched"}
	}
	return out, nil
}

func TestBatchUsesWireLevelBatchingWhenSupported(t *testing.T) {
	tr := New()
	ep := NewEndpoint("https://x", KindHTTPS)
	caller := &fakeBatchCaller{}
	tr.AddEndpoint(1, ep, caller)

	calls := make([]BatchItem, maxBatchSize+10)
	for i := range calls {
		calls[i] = BatchItem{Method: "eth_call"}
	}
	results, err := tr.Batch(context.Background(), 1, calls)
	require.NoError(t, err)
	assert.Len(t, results, len(calls))
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, "batched", r.Value)
	}
	// one BatchCallContext round trip per maxBatchSize-sized sub-batch, never per-item.
	assert.Equal(t, 2, caller.batchCalls)
}

func TestQuorumCallAgreesOnMajority(t *testing.T) {
	tr := New()
	tr.AddEndpoint(1, NewEndpoint("https://a", KindHTTPS), &fakeCaller{results: []interface{}{"42"}})
	tr.AddEndpoint(1, NewEndpoint("https://b", KindHTTPS), &fakeCaller{results: []interface{}{"42"}})
	tr.AddEndpoint(1, NewEndpoint("https://c", KindHTTPS), &fakeCaller{results: []interface{}{"7"}})

	val, err := tr.QuorumCall(context.Background(), 1, "eth_blockNumber", 2)
	require.NoError(t, err)
	assert.Equal(t, "42", val)
}

func TestQuorumCallNoAgreementReturnsNoQuorum(t *testing.T) {
	tr := New()
	tr.AddEndpoint(1, NewEndpoint("https://a", KindHTTPS), &fakeCaller{results: []interface{}{"1"}})
	tr.AddEndpoint(1, NewEndpoint("https://b", KindHTTPS), &fakeCaller{results: []interface{}{"2"}})

	_, err := tr.QuorumCall(context.Background(), 1, "eth_blockNumber", 2)
	require.Error(t, err)
}

func TestQuorumCallInsufficientEndpointsReturnsNoQuorum(t *testing.T) {
	tr := New()
	tr.AddEndpoint(1, NewEndpoint("https://a", KindHTTPS), &fakeCaller{results: []interface{}{"1"}})

	_, err := tr.QuorumCall(context.Background(), 1, "eth_blockNumber", 2)
	require.Error(t, err)
}

type fakeSubscriber struct {
	calls int
	fail  bool
}

func (f *fakeSubscriber) SubscribeLogs(ctx context.Context, filt Filter, out chan<- Log) error {
	f.calls++
	if f.fail && f.calls == 1 {
		return errors.New("handshake failed")
	}
	select {
	case out <- Log{ChainID: 1, Address: "0xpool"}:
	case <-ctx.Done():
	}
	<-ctx.Done()
	return nil
}

func TestSubscribeReconnectsAfterFailure(t *testing.T) {
	tr := New()
	sub := &fakeSubscriber{fail: true}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	logs := tr.Subscribe(ctx, 1, sub, Filter{Addresses: []string{"0xpool"}})

	select {
	case l := <-logs:
		assert.Equal(t, "0xpool", l.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a log before timeout")
	}
}
