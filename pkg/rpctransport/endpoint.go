// Package rpctransport multiplexes JSON-RPC calls over a pool of HTTP/WS endpoints per
// chain, tracking per-endpoint health and providing quorum reads and batched calls.
package rpctransport

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind is the transport kind of an endpoint.
type Kind string

const (
	KindHTTPS Kind = "https"
	KindWS    Kind = "ws"
)

// State is an endpoint's circuit-breaker state.
type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateQuarantined State = "quarantined"
)

const (
	quarantineFailureStreak = 5
	quarantineErrorRate     = 0.10
	errorRateWindow         = 60 * time.Second
	quarantineCooldown      = 30 * time.Second
)

// Endpoint tracks one RPC peer's health. The failure streak and latency estimate are updated
// with atomics (per the concurrency model's "atomic increments" policy); the error-rate
// window and the circuit state are guarded by their own mutexes.
type Endpoint struct {
	URL  string
	Kind Kind

	mu               sync.Mutex
	state            State
	consecutiveFails int64
	quarantinedAt    time.Time

	latencyP50Ms int64 // atomic, coarse exponential moving estimate in ms

	windowMu     sync.Mutex
	windowStart  time.Time
	windowCalls  int64
	windowErrors int64
}

func NewEndpoint(url string, kind Kind) *Endpoint {
	return &Endpoint{URL: url, Kind: kind, state: StateHealthy, windowStart: time.Now()}
}

// RecordSuccess marks a call as successful, updating latency and clearing the failure streak.
func (e *Endpoint) RecordSuccess(latency time.Duration) {
	atomic.StoreInt64(&e.consecutiveFails, 0)
	e.updateLatency(latency)
	e.recordWindow(false)
	e.maybeHealAfterCooldown()
}

func (e *Endpoint) updateLatency(latency time.Duration) {
	ms := latency.Milliseconds()
	prev := atomic.LoadInt64(&e.latencyP50Ms)
	if prev == 0 {
		atomic.StoreInt64(&e.latencyP50Ms, ms)
		return
	}
	// Exponential moving average, weight 0.2 on the new sample.
	next := prev + (ms-prev)/5
	atomic.StoreInt64(&e.latencyP50Ms, next)
}

func (e *Endpoint) LatencyP50() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.latencyP50Ms)) * time.Millisecond
}

// RecordFailure marks a call as failed. After quarantineFailureStreak consecutive failures,
// or once the rolling error rate exceeds quarantineErrorRate over errorRateWindow, the
// endpoint transitions to quarantined and is excluded from selection.
func (e *Endpoint) RecordFailure() {
	fails := atomic.AddInt64(&e.consecutiveFails, 1)
	e.recordWindow(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateQuarantined {
		return
	}
	if fails >= quarantineFailureStreak || e.errorRate() > quarantineErrorRate {
		e.state = StateQuarantined
		e.quarantinedAt = time.Now()
		return
	}
	e.state = StateDegraded
}

func (e *Endpoint) recordWindow(failed bool) {
	e.windowMu.Lock()
	defer e.windowMu.Unlock()
	now := time.Now()
	if now.Sub(e.windowStart) > errorRateWindow {
		e.windowStart = now
		e.windowCalls = 0
		e.windowErrors = 0
	}
	e.windowCalls++
	if failed {
		e.windowErrors++
	}
}

// errorRate must be called with e.windowMu unlocked by the caller's critical section; it
// takes its own lock internally.
func (e *Endpoint) errorRate() float64 {
	e.windowMu.Lock()
	defer e.windowMu.Unlock()
	if e.windowCalls == 0 {
		return 0
	}
	return float64(e.windowErrors) / float64(e.windowCalls)
}

// maybeHealAfterCooldown flips a quarantined endpoint back to degraded once the half-open
// probe window has elapsed, so the next selection attempt can try it again.
func (e *Endpoint) maybeHealAfterCooldown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateQuarantined && time.Since(e.quarantinedAt) > quarantineCooldown {
		e.state = StateDegraded
		atomic.StoreInt64(&e.consecutiveFails, 0)
	}
}

// GetState returns the endpoint's current circuit state, applying cooldown healing first so a
// caller never observes a stale quarantine past its half-open window.
func (e *Endpoint) GetState() State {
	e.mu.Lock()
	if e.state == StateQuarantined && time.Since(e.quarantinedAt) > quarantineCooldown {
		e.mu.Unlock()
		e.maybeHealAfterCooldown()
		e.mu.Lock()
	}
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) Selectable() bool {
	return e.GetState() != StateQuarantined
}
