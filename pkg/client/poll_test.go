package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
)

type fakeFetcher struct {
	mu    sync.Mutex
	snaps map[string]*telemetry.Snapshot
	calls int
}

func (f *fakeFetcher) CurrentState(ctx context.Context, systemID string) (*telemetry.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	snap := f.snaps[systemID]
	if snap == nil {
		return nil, context.Canceled
	}
	return snap, nil
}

// The fallback keeps data flowing while the live channel is down: a
// watch on a disconnected service still surfaces polled snapshots.
func TestPollFallbackWhileDisconnected(t *testing.T) {
	fetcher := &fakeFetcher{snaps: map[string]*telemetry.Snapshot{
		"sys-001": {
			SystemID:     "sys-001",
			Timestamp:    time.UnixMilli(1000),
			Measurements: map[string]float64{"soc": 42},
		},
	}}

	cfg := DefaultConfig()
	cfg.ServerURL = "wss://fleet.test/live"
	cfg.Dialer = &fakeDialer{}
	cfg.Fetcher = fetcher
	cfg.Poll.Interval = Duration(5 * time.Millisecond)

	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	received := make(chan *telemetry.Snapshot, 1)
	consumer, err := svc.Watch("sys-001", func(snap *telemetry.Snapshot) {
		select {
		case received <- snap:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case snap := <-received:
		soc, _ := snap.Measurement("soc")
		require.Equal(t, 42.0, soc)
	case <-time.After(2 * time.Second):
		t.Fatal("polled snapshot was not delivered")
	}
	require.NotNil(t, svc.Latest("sys-001"))

	// Closing the watch stops the poll loop.
	consumer.Close()
	fetcher.mu.Lock()
	callsAtClose := fetcher.calls
	fetcher.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	fetcher.mu.Lock()
	callsAfter := fetcher.calls
	fetcher.mu.Unlock()
	require.LessOrEqual(t, callsAfter, callsAtClose+1)
}
