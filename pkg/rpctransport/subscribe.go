package rpctransport

import (
	"context"
	"log"
	"time"
)

// Log is a decoded event log delivered to a Stream subscriber.
type Log struct {
	ChainID     int64
	Address     string
	Topics      []string
	Data        []byte
	BlockNumber uint64
	Reorg       bool // sentinel: a reorg occurred and missed blocks were re-emitted
}

// Filter selects which addresses/topics a subscription watches.
type Filter struct {
	Addresses []string
	Topics    []string
}

// Subscriber opens a long-lived WS subscription. Production code backs this with
// ethclient.Client.SubscribeFilterLogs; tests substitute a fake emitting canned logs.
type Subscriber interface {
	SubscribeLogs(ctx context.Context, f Filter, out chan<- Log) error
}

// Subscribe runs a reconnecting subscription loop on its own goroutine, generalizing the
// poll/backoff functional-options idiom (WithPollInterval/WithTimeout) into a push-based
// WS reconnect loop. The returned channel is closed when ctx is cancelled.
func (t *Transport) Subscribe(ctx context.Context, chainID int64, sub Subscriber, f Filter) <-chan Log {
	out := make(chan Log, 256)

	go func() {
		defer close(out)
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			handshakeCtx, cancel := context.WithTimeout(ctx, defaultWSHandshakeTimeout)
			err := sub.SubscribeLogs(handshakeCtx, f, out)
			cancel()

			if ctx.Err() != nil {
				return
			}
			if err == nil {
				attempt = 0
				continue
			}

			attempt++
			delay := retryBaseDelay * time.Duration(1<<uint(min(attempt, 6)))
			log.Printf("[rpctransport] subscription on chain %d lost, reconnecting in %v (attempt %d): %v", chainID, delay, attempt, err)
			sleepWithJitter(ctx, delay)
		}
	}()

	return out
}
