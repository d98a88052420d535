package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/internal/arbsearch"
	"github.com/blackholelabs/arbengine/internal/configplane"
	"github.com/blackholelabs/arbengine/internal/dexadapter"
	"github.com/blackholelabs/arbengine/internal/dexadapter/constantproduct"
	"github.com/blackholelabs/arbengine/internal/orchestrator"
	"github.com/blackholelabs/arbengine/internal/poolregistry"
	"github.com/blackholelabs/arbengine/internal/publisher"
	"github.com/blackholelabs/arbengine/pkg/types"
)

func buildEngine(t *testing.T) (*Engine, *types.ConfigSnapshot) {
	t.Helper()

	pub := publisher.New(4, nil)
	bus := NewEventBus()
	plane := configplane.New(pub)

	registry := poolregistry.New(time.Second)
	adapters := dexadapter.NewRegistry()
	adapters.Register(types.FamilyConstantProduct, constantproduct.New())
	scanner := arbsearch.New(registry, adapters, 2000, func() int64 { return time.Now().UnixMilli() })

	plane.RegisterRebuilder(func(snapshot *types.ConfigSnapshot) error {
		for _, chain := range snapshot.Chains {
			for _, pool := range chain.Pools {
				registry.Upsert(pool)
			}
		}
		return nil
	})

	orch := orchestrator.New(plane, registry, scanner, nil, nil, nil, pub)

	snapshot := &types.ConfigSnapshot{
		Version: "v1",
		Chains: []types.ChainConfig{{
			ChainDescriptor: types.ChainDescriptor{ChainID: 56, Name: "bsc", NativeSymbol: "BNB", WrappedNative: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", HTTPEndpoints: []string{"https://rpc"}},
			RpcPool:         types.RpcPool{Https: []string{"https://rpc"}},
			Dexes:           []string{"pancakeswap"},
			Assets: []types.AssetDescriptor{{
				ChainID: 56, Address: "0x00000000000000000000000000000000000000ab", Symbol: "TOKEN", Decimals: 18, SafetyScore: 80,
			}},
		}},
		Policies: types.DefaultPolicies(),
	}
	_, err := plane.Apply(context.Background(), snapshot)
	require.NoError(t, err)

	e := New(plane, registry, scanner, orch, pub, bus)
	return e, snapshot
}

func TestEventBusBroadcastsToAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	bus.broadcast(publisher.Event{Type: "config.applied"})

	select {
	case evt := <-a:
		assert.Equal(t, "config.applied", evt.Type)
	default:
		t.Fatal("subscriber a did not receive event")
	}
	select {
	case evt := <-b:
		assert.Equal(t, "config.applied", evt.Type)
	default:
		t.Fatal("subscriber b did not receive event")
	}
}

func TestEventBusDropsOnFullSubscriberWithoutBlocking(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	bus.broadcast(publisher.Event{Type: "a"})
	bus.broadcast(publisher.Event{Type: "b"}) // must not block even though ch is full

	evt := <-ch
	assert.Equal(t, "a", evt.Type)
}

func TestHandleConfigActiveReportsSummary(t *testing.T) {
	e, snapshot := buildEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/engine/config/active", nil)
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
	assert.Equal(t, snapshot.Version, body["version"])
}

func TestHandleConfigValidateUsesActiveSnapshotWhenNoneProvided(t *testing.T) {
	e, _ := buildEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/engine/config/validate", bytes.NewBufferString("{}"))
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var report types.ValidationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Valid)
}

func TestHandleOrchestratorValidateRejectsUnknownAsset(t *testing.T) {
	e, _ := buildEngine(t)
	body, _ := json.Marshal(map[string]interface{}{
		"asset": types.AssetDescriptor{ChainID: 999, Address: "0x00000000000000000000000000000000000000ff", SafetyScore: 80},
	})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator/validate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result types.ValidationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, types.ReasonNotConfigured, result.Reason)
}

func TestHandleAddToTradingRejectsUnvalidatedAsset(t *testing.T) {
	e, _ := buildEngine(t)
	body, _ := json.Marshal(map[string]interface{}{
		"asset": types.AssetDescriptor{ChainID: 56, Address: "0x00000000000000000000000000000000000000ab"},
	})
	req := httptest.NewRequest(http.MethodPost, "/orchestrator/add-to-trading", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
