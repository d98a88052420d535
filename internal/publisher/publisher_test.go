package publisher

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/arbengine/pkg/types"
)

type recordingStore struct {
	mu            sync.Mutex
	opportunities []types.Opportunity
}

func (s *recordingStore) RecordOpportunity(ctx context.Context, o types.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = append(s.opportunities, o)
	return nil
}
func (s *recordingStore) RecordValidation(ctx context.Context, assetAddress string, chainID int64, status types.ValidationStatus, reason types.BlockReason) error {
	return nil
}

func opp(id string) types.Opportunity {
	return types.Opportunity{ID: id, ChainID: 56, BaseToken: "weth"}
}

func TestPublishEnqueuesOpportunity(t *testing.T) {
	store := &recordingStore{}
	p := New(4, store)

	require.NoError(t, p.Publish(context.Background(), opp("a")))

	select {
	case got := <-p.Opportunities():
		assert.Equal(t, "a", got.ID)
	default:
		t.Fatal("expected an opportunity on the outbound channel")
	}
	assert.Len(t, store.opportunities, 1)
}

func TestPublishDedupsWithinWindow(t *testing.T) {
	store := &recordingStore{}
	p := New(4, store)

	require.NoError(t, p.Publish(context.Background(), opp("dup")))
	require.NoError(t, p.Publish(context.Background(), opp("dup")))

	assert.Len(t, store.opportunities, 1)
	assert.Len(t, p.Opportunities(), 1)
}

func TestPublishEvictsOldestOnBackpressure(t *testing.T) {
	store := &recordingStore{}
	p := New(2, store)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), opp(fmt.Sprintf("id-%d", i))))
	}

	assert.LessOrEqual(t, len(p.Opportunities()), 2)
	last := <-p.Opportunities()
	// The channel should hold more recent entries, not the very first one published.
	assert.NotEqual(t, "id-0", last.ID)
}

func TestEmitDoesNotBlockWhenNoSubscriber(t *testing.T) {
	p := New(1, nil)
	p.Emit(context.Background(), "config.applied", types.Summary{Chains: 1})
	p.Emit(context.Background(), "config.applied", types.Summary{Chains: 2})
	// Second emit must not block even though the buffered channel only holds one event.
	select {
	case evt := <-p.Events():
		assert.Equal(t, "config.applied", evt.Type)
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestPublishRejectsMissingID(t *testing.T) {
	p := New(1, nil)
	err := p.Publish(context.Background(), types.Opportunity{ChainID: 56})
	require.Error(t, err)
}
