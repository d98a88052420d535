package rpctransport

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackholelabs/arbengine/pkg/types"
)

const (
	maxRetryAttempts  = 3
	retryBaseDelay    = 300 * time.Millisecond
	retryJitterFrac   = 0.30
	maxBatchSize      = 500
	defaultHTTPTimeout = 3 * time.Second
	defaultWSHandshakeTimeout = 10 * time.Second
	defaultQuorumWindow = 400 * time.Millisecond
)

// Caller is the minimal per-endpoint RPC surface the transport drives. Production code
// backs this with *rpc.Client/*ethclient.Client; tests substitute a fake.
type Caller interface {
	CallContext(ctx context.Context, method string, params ...interface{}) (interface{}, error)
}

// Transport owns a pool of endpoints per chain and multiplexes calls across them,
// generalizing the single-endpoint contractclient.ContractClient into a health-tracked,
// quorum-capable pool.
type Transport struct {
	mu        sync.RWMutex
	endpoints map[int64][]*Endpoint
	callers   map[string]Caller // keyed by endpoint URL
}

func New() *Transport {
	return &Transport{
		endpoints: make(map[int64][]*Endpoint),
		callers:   make(map[string]Caller),
	}
}

// AddEndpoint registers an endpoint for a chain with its live Caller implementation.
func (t *Transport) AddEndpoint(chainID int64, ep *Endpoint, caller Caller) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[chainID] = append(t.endpoints[chainID], ep)
	t.callers[ep.URL] = caller
}

// Endpoints returns the registered endpoints for a chain, for diagnostics/GET /engine/state.
func (t *Transport) Endpoints(chainID int64) []*Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Endpoint, len(t.endpoints[chainID]))
	copy(out, t.endpoints[chainID])
	return out
}

// selectHealthiest returns the best candidate endpoint for a chain, lowest latency first
// among selectable (non-quarantined) endpoints.
func (t *Transport) selectHealthiest(chainID int64, exclude map[string]bool) (*Endpoint, Caller, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	eps := t.endpoints[chainID]
	var best *Endpoint
	for _, ep := range eps {
		if exclude[ep.URL] || !ep.Selectable() {
			continue
		}
		if best == nil || ep.LatencyP50() < best.LatencyP50() {
			best = ep
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("no healthy endpoint for chain %d: %w", chainID, types.ErrTransport)
	}
	return best, t.callers[best.URL], nil
}

func (t *Transport) selectableCount(chainID int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, ep := range t.endpoints[chainID] {
		if ep.Selectable() {
			n++
		}
	}
	return n
}

// Call picks the healthiest endpoint for chainID and invokes method, falling back to the
// next-healthiest on failure. Retries with exponential backoff up to maxRetryAttempts.
func (t *Transport) Call(ctx context.Context, chainID int64, method string, params ...interface{}) (interface{}, error) {
	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		ep, caller, err := t.selectHealthiest(chainID, tried)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%v (after: %w)", err, lastErr)
			}
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
		start := time.Now()
		val, err := caller.CallContext(callCtx, method, params...)
		cancel()

		if err == nil {
			ep.RecordSuccess(time.Since(start))
			return val, nil
		}

		ep.RecordFailure()
		tried[ep.URL] = true
		lastErr = fmt.Errorf("endpoint %s: %w", ep.URL, wrapRPCFailure(err))
		log.Printf("[rpctransport] call %s on chain %d endpoint %s failed (attempt %d): %v", method, chainID, ep.URL, attempt+1, err)

		if attempt < maxRetryAttempts-1 {
			sleepWithJitter(ctx, retryBaseDelay*time.Duration(1<<attempt))
		}
	}
	return nil, fmt.Errorf("call %s exhausted retries: %w", method, lastErr)
}

func wrapRPCFailure(err error) error {
	if ctxErr, ok := err.(interface{ Timeout() bool }); ok && ctxErr.Timeout() {
		return fmt.Errorf("%v: %w", err, types.ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, types.ErrTransport)
}

func sleepWithJitter(ctx context.Context, base time.Duration) {
	jitter := 1 + (rand.Float64()*2-1)*retryJitterFrac
	d := time.Duration(float64(base) * jitter)
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// BatchItem is one call packed into a Transport.Batch request.
type BatchItem struct {
	Method string
	Params []interface{}
}

type BatchResult struct {
	Value interface{}
	Err   error
}

// BatchCaller is implemented by endpoints that can pack multiple calls into a single
// wire round trip (a standard JSON-RPC 2.0 batch request); gethCaller backs production
// endpoints with *rpc.Client's native batch support. Callers without it (test fakes) fall
// back to sequential Call.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, items []BatchItem) ([]BatchResult, error)
}

func (t *Transport) Batch(ctx context.Context, chainID int64, calls []BatchItem) ([]BatchResult, error) {
	results := make([]BatchResult, len(calls))
	for start := 0; start < len(calls); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(calls) {
			end = len(calls)
		}
		sub, err := t.batchSub(ctx, chainID, calls[start:end])
		if err != nil {
			return nil, err
		}
		copy(results[start:end], sub)
	}
	return results, nil
}

// batchSub sends one sub-batch (<=maxBatchSize items) as a single wire round trip against
// the healthiest endpoint, falling back to the next-healthiest on transport failure, and to
// sequential per-item Call against an endpoint whose Caller doesn't implement BatchCaller.
func (t *Transport) batchSub(ctx context.Context, chainID int64, calls []BatchItem) ([]BatchResult, error) {
	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		ep, caller, err := t.selectHealthiest(chainID, tried)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%v (after: %w)", err, lastErr)
			}
			return nil, err
		}

		batcher, ok := caller.(BatchCaller)
		if !ok {
			return t.sequentialBatch(ctx, chainID, calls), nil
		}

		callCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
		start := time.Now()
		out, err := batcher.BatchCallContext(callCtx, calls)
		cancel()

		if err == nil {
			ep.RecordSuccess(time.Since(start))
			return out, nil
		}

		ep.RecordFailure()
		tried[ep.URL] = true
		lastErr = fmt.Errorf("endpoint %s: %w", ep.URL, wrapRPCFailure(err))
		log.Printf("[rpctransport] batch of %d on chain %d endpoint %s failed (attempt %d): %v", len(calls), chainID, ep.URL, attempt+1, err)

		if attempt < maxRetryAttempts-1 {
			sleepWithJitter(ctx, retryBaseDelay*time.Duration(1<<attempt))
		}
	}
	return nil, fmt.Errorf("batch of %d exhausted retries: %w", len(calls), lastErr)
}

func (t *Transport) sequentialBatch(ctx context.Context, chainID int64, calls []BatchItem) []BatchResult {
	results := make([]BatchResult, len(calls))
	for i, call := range calls {
		val, err := t.Call(ctx, chainID, call.Method, call.Params...)
		results[i] = BatchResult{Value: val, Err: err}
	}
	return results
}

// QuorumCall issues the call to at least two endpoints in parallel and returns the value
// agreed upon by k of them within defaultQuorumWindow, or ErrNoQuorum.
func (t *Transport) QuorumCall(ctx context.Context, chainID int64, method string, k int, params ...interface{}) (interface{}, error) {
	if k < 2 {
		k = 2
	}
	t.mu.RLock()
	eps := append([]*Endpoint(nil), t.endpoints[chainID]...)
	t.mu.RUnlock()

	var selectable []*Endpoint
	for _, ep := range eps {
		if ep.Selectable() {
			selectable = append(selectable, ep)
		}
	}
	if len(selectable) < k {
		return nil, fmt.Errorf("only %d selectable endpoints, need %d: %w", len(selectable), k, types.ErrNoQuorum)
	}

	qctx, cancel := context.WithTimeout(ctx, defaultQuorumWindow)
	defer cancel()

	g, gctx := errgroup.WithContext(qctx)
	results := make([]interface{}, len(selectable))
	errs := make([]error, len(selectable))

	for i, ep := range selectable {
		i, ep := i, ep
		caller := t.callerFor(ep.URL)
		g.Go(func() error {
			start := time.Now()
			val, err := caller.CallContext(gctx, method, params...)
			if err != nil {
				ep.RecordFailure()
				errs[i] = err
				return nil
			}
			ep.RecordSuccess(time.Since(start))
			results[i] = val
			return nil
		})
	}
	_ = g.Wait()

	return agreeValue(results, k)
}

func (t *Transport) callerFor(url string) Caller {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.callers[url]
}

// agreeValue counts occurrences of a fmt.Sprint-normalized result and returns the first
// value with at least k agreeing responses.
func agreeValue(results []interface{}, k int) (interface{}, error) {
	counts := make(map[string]int)
	first := make(map[string]interface{})
	for _, r := range results {
		if r == nil {
			continue
		}
		key := fmt.Sprint(r)
		counts[key]++
		if _, ok := first[key]; !ok {
			first[key] = r
		}
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	for _, key := range keys {
		if counts[key] >= k {
			return first[key], nil
		}
	}
	return nil, types.ErrNoQuorum
}
