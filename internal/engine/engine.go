// Package engine wires the transport, registry, adapters, price feed, search, optimizer,
// orchestrator and publisher together behind the HTTP control surface and the background
// scan loop.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/blackholelabs/arbengine/internal/arbsearch"
	"github.com/blackholelabs/arbengine/internal/configplane"
	"github.com/blackholelabs/arbengine/internal/orchestrator"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/internal/publisher"
	"github.com/blackholelabs/arbengine/pkg/types"
)

// defaultScanInterval is the soft scan-round deadline: candidates not
// optimized within the round are deferred to the next one rather than blocking it.
const defaultScanInterval = 5 * time.Second

// EventBus fans out publisher.Event to any number of subscribers over bounded channels,
// each with its own buffer; when a subscriber's buffer is full the new event is dropped
// for that subscriber, so one slow subscriber never blocks another.
type EventBus struct {
	mu   sync.Mutex
	subs map[chan publisher.Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan publisher.Event]struct{})}
}

// Subscribe returns a channel that receives every future event until Unsubscribe is called.
func (b *EventBus) Subscribe(buffer int) chan publisher.Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan publisher.Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBus) Unsubscribe(ch chan publisher.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *EventBus) broadcast(evt publisher.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than block the fan-out loop.
		}
	}
}

// pump drains pub.Events() onto the bus until ctx is cancelled.
func (b *EventBus) pump(ctx context.Context, pub *publisher.Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-pub.Events():
			if !ok {
				return
			}
			b.broadcast(evt)
		}
	}
}

// Engine owns the wired component graph and exposes the HTTP control surface plus
// the background scan loop.
type Engine struct {
	plane        *configplane.Plane
	registry     *poolregistry.Registry
	scanner      *arbsearch.Scanner
	orchestrator *orchestrator.Orchestrator
	publisher    *publisher.Publisher
	bus          *EventBus
	scanInterval time.Duration
}

func New(plane *configplane.Plane, registry *poolregistry.Registry, scanner *arbsearch.Scanner, orch *orchestrator.Orchestrator, pub *publisher.Publisher, bus *EventBus) *Engine {
	return &Engine{
		plane:        plane,
		registry:     registry,
		scanner:      scanner,
		orchestrator: orch,
		publisher:    pub,
		bus:          bus,
		scanInterval: defaultScanInterval,
	}
}

// Run starts the event-bus pump and the scan loop, blocking until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.bus.pump(ctx, e.publisher)

	ticker := time.NewTicker(e.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanRound(ctx)
		}
	}
}

// scanRound validates every configured asset on every chain and, for anything admitted,
// publishes its plans. A soft deadline bounds the round; assets not reached by
// the deadline are picked up again next round.
func (e *Engine) scanRound(ctx context.Context) {
	snapshot := e.plane.Active()
	if snapshot == nil {
		return
	}
	roundCtx, cancel := context.WithTimeout(ctx, e.scanInterval)
	defer cancel()

	for _, chain := range snapshot.Chains {
		if err := e.registry.BulkRefresh(roundCtx, chain.ChainID); err != nil {
			log.Printf("[engine] bulk refresh chain %d: %v", chain.ChainID, err)
		}
		for _, asset := range chain.Assets {
			select {
			case <-roundCtx.Done():
				return
			default:
			}
			// Rejected is terminal until a config swap resets statuses to pending.
			if e.orchestrator.Status(asset) == types.StatusRejected {
				continue
			}
			result := e.orchestrator.Validate(roundCtx, asset)
			if !result.Valid {
				e.publisher.Emit(roundCtx, "asset.rejected", map[string]interface{}{"asset": asset, "reason": result.Reason})
				continue
			}
			if err := e.orchestrator.AddToTrading(roundCtx, asset, result.Pairs); err != nil {
				log.Printf("[engine] add-to-trading failed for %s on chain %d: %v", asset.Symbol, asset.ChainID, err)
			}
		}
	}
}

// Handler returns the engine's HTTP control surface.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /engine/config/validate", e.handleConfigValidate)
	mux.HandleFunc("POST /engine/config/export", e.handleConfigExport)
	mux.HandleFunc("POST /engine/assets/upsert", e.handleAssetsUpsert)
	mux.HandleFunc("GET /engine/config/active", e.handleConfigActive)
	mux.HandleFunc("GET /engine/state", e.handleState)
	mux.HandleFunc("POST /orchestrator/validate", e.handleOrchestratorValidate)
	mux.HandleFunc("POST /orchestrator/add-to-trading", e.handleAddToTrading)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[engine] encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type configValidateRequest struct {
	Snapshot *types.ConfigSnapshot `json:"snapshot"`
}

func (e *Engine) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	var req configValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snapshot := req.Snapshot
	if snapshot == nil {
		snapshot = e.plane.Active()
	}
	if snapshot == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no snapshot provided and none active"))
		return
	}
	report := configplane.Validate(snapshot)
	writeJSON(w, http.StatusOK, report)
}

type configExportRequest struct {
	DryRun bool `json:"dryRun"`
}

func (e *Engine) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	var req configExportRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	snapshot := e.plane.Active()
	if snapshot == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("no active config to export"))
		return
	}
	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]interface{}{"dryRun": true, "summary": snapshot.Summary(), "version": snapshot.Version})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     snapshot.Version,
		"totalChains": snapshot.TotalChains,
		"totalDexs":   snapshot.TotalDexs,
		"lastUpdated": snapshot.LastUpdated,
		"summary":     snapshot.Summary(),
	})
}

type assetsUpsertRequest struct {
	Assets []struct {
		ChainID int64                   `json:"chainId"`
		Assets  []types.AssetDescriptor `json:"assets"`
		Pools   []types.PoolDescriptor  `json:"pools"`
	} `json:"assets"`
}

func (e *Engine) handleAssetsUpsert(w http.ResponseWriter, r *http.Request) {
	var req assetsUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	current := e.plane.Active()
	if current == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("no active config to upsert against"))
		return
	}

	deltas := make([]configplane.ChainDelta, 0, len(req.Assets))
	for _, item := range req.Assets {
		deltas = append(deltas, configplane.ChainDelta{ChainID: item.ChainID, Assets: item.Assets, Pools: item.Pools})
	}
	next := configplane.Upsert(current, deltas)

	report, err := e.plane.Apply(r.Context(), next)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e.orchestrator.ResetAll()
	writeJSON(w, http.StatusOK, map[string]interface{}{"report": report, "summary": next.Summary()})
}

func (e *Engine) handleConfigActive(w http.ResponseWriter, r *http.Request) {
	snapshot := e.plane.Active()
	if snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  true,
		"version": snapshot.Version,
		"summary": snapshot.Summary(),
	})
}

func (e *Engine) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot := e.plane.Active()
	if snapshot == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"chains": 0, "pools": 0})
		return
	}
	chainStates := make([]map[string]interface{}, 0, len(snapshot.Chains))
	for _, chain := range snapshot.Chains {
		chainStates = append(chainStates, map[string]interface{}{
			"chainId": chain.ChainID,
			"name":    chain.Name,
			"pools":   len(chain.Pools),
			"assets":  len(chain.Assets),
			"dexes":   chain.Dexes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chains": chainStates,
		"summary": snapshot.Summary(),
	})
}

type orchestratorValidateRequest struct {
	Asset types.AssetDescriptor `json:"asset"`
}

func (e *Engine) handleOrchestratorValidate(w http.ResponseWriter, r *http.Request) {
	var req orchestratorValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result := e.orchestrator.Validate(r.Context(), req.Asset)
	status := http.StatusOK
	eventType := "asset.validated"
	if !result.Valid {
		eventType = "asset.rejected"
	}
	e.publisher.Emit(r.Context(), eventType, map[string]interface{}{"asset": req.Asset, "reason": result.Reason})
	writeJSON(w, status, result)
}

type addToTradingRequest struct {
	Asset types.AssetDescriptor `json:"asset"`
	Pairs []*types.PairPlan     `json:"pairs"`
}

func (e *Engine) handleAddToTrading(w http.ResponseWriter, r *http.Request) {
	var req addToTradingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := e.orchestrator.AddToTrading(r.Context(), req.Asset, req.Pairs); err != nil {
		status := http.StatusConflict
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
