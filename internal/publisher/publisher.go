// Package publisher is the outbound boundary of the engine: it dedups opportunities, holds
// them in a bounded channel with drop-oldest backpressure, and mirrors lifecycle events
// (config.applied, asset.validated, asset.rejected, opportunity.new) to any consumer
// listening on Events(). On overflow the oldest unconsumed entry is dropped rather than
// the newest, since a stale opportunity is worthless but a fresh one dropped in favor of
// a stale one would be a regression.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackholelabs/arbengine/pkg/types"
)

const (
	// DefaultChannelSize is the outbound opportunity channel's default capacity.
	DefaultChannelSize = 1024
	// dedupWindow is how long a published opportunity id suppresses a repeat.
	dedupWindow = 30 * time.Second
)

var backpressureDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arbengine",
	Subsystem: "publisher",
	Name:      "backpressure_total",
	Help:      "Opportunities dropped from the outbound channel due to backpressure.",
}, []string{"chain_id"})

func init() {
	prometheus.MustRegister(backpressureDrops)
}

// RecordStore is the narrow write-only persistence port the publisher writes through. It
// never reads back what it wrote; internal/store provides a MySQL-backed implementation.
type RecordStore interface {
	RecordOpportunity(ctx context.Context, o types.Opportunity) error
	RecordValidation(ctx context.Context, assetAddress string, chainID int64, status types.ValidationStatus, reason types.BlockReason) error
}

// Event is one lifecycle notification mirrored to Events() subscribers.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Ts      int64       `json:"ts"`
}

// Publisher owns the deduped, bounded outbound opportunity stream and the lifecycle event
// feed. Safe for concurrent use.
type Publisher struct {
	out    chan types.Opportunity
	events chan Event
	store  RecordStore
	nowFn  func() int64

	mu   sync.Mutex
	seen map[string]int64 // opportunity id -> published-at ms
}

func New(channelSize int, store RecordStore) *Publisher {
	if channelSize <= 0 {
		channelSize = DefaultChannelSize
	}
	return &Publisher{
		out:    make(chan types.Opportunity, channelSize),
		events: make(chan Event, channelSize),
		store:  store,
		nowFn:  func() int64 { return time.Now().UnixMilli() },
		seen:   make(map[string]int64),
	}
}

// Opportunities exposes the outbound stream for the engine's HTTP/event-bus layer to drain.
func (p *Publisher) Opportunities() <-chan types.Opportunity { return p.out }

// Events exposes the lifecycle event feed.
func (p *Publisher) Events() <-chan Event { return p.events }

// Publish dedups opportunity by ID within a 30s window, records it through the RecordStore
// port, and enqueues it onto the bounded outbound channel, evicting the oldest queued item
// on overflow rather than dropping the new one.
func (p *Publisher) Publish(ctx context.Context, o types.Opportunity) error {
	if o.ID == "" {
		return fmt.Errorf("opportunity missing id")
	}
	if o.Ts == 0 {
		o.Ts = p.nowFn()
	}

	if p.isDuplicate(o.ID) {
		return nil
	}

	if p.store != nil {
		if err := p.store.RecordOpportunity(ctx, o); err != nil {
			return fmt.Errorf("recording opportunity %s: %w", o.ID, err)
		}
	}

	p.enqueue(o)
	p.Emit(ctx, "opportunity.new", o)
	return nil
}

func (p *Publisher) isDuplicate(id string) bool {
	now := p.nowFn()
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, ts := range p.seen {
		if now-ts > dedupWindow.Milliseconds() {
			delete(p.seen, k)
		}
	}
	if ts, ok := p.seen[id]; ok && now-ts <= dedupWindow.Milliseconds() {
		return true
	}
	p.seen[id] = now
	return false
}

// enqueue sends o onto the outbound channel, evicting the oldest queued opportunity and
// incrementing the backpressure counter if the channel is full.
func (p *Publisher) enqueue(o types.Opportunity) {
	select {
	case p.out <- o:
		return
	default:
	}

	backpressureDrops.WithLabelValues(fmt.Sprintf("%d", o.ChainID)).Inc()
	select {
	case <-p.out:
	default:
	}
	select {
	case p.out <- o:
	default:
		// Someone drained concurrently and refilled the slot first; this send is best-effort.
	}
}

// Emit mirrors a lifecycle event to Events(), dropping it (not the opportunity stream) if no
// one is draining fast enough; lifecycle events are informational, never load-bearing.
func (p *Publisher) Emit(ctx context.Context, eventType string, payload interface{}) {
	evt := Event{Type: eventType, Payload: payload, Ts: p.nowFn()}
	select {
	case p.events <- evt:
	default:
	}

	if p.store != nil && (eventType == "asset.validated" || eventType == "asset.rejected") {
		// Best-effort: validation bookkeeping failures must not block the event feed.
		_ = p.recordValidationEvent(ctx, eventType, payload)
	}
}

func (p *Publisher) recordValidationEvent(ctx context.Context, eventType string, payload interface{}) error {
	asset, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	descriptor, ok := asset["asset"].(types.AssetDescriptor)
	if !ok {
		return nil
	}
	status := types.StatusValid
	reason := types.BlockReason("")
	if eventType == "asset.rejected" {
		status = types.StatusRejected
	}
	return p.store.RecordValidation(ctx, descriptor.Address, descriptor.ChainID, status, reason)
}
