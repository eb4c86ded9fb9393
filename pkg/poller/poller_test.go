package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/dispatch"
	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
)

type fakeFetcher struct {
	mu    sync.Mutex
	snaps map[string]*telemetry.Snapshot
	err   error
	calls int

	// block, when set, holds a fetch open until released.
	block chan struct{}

	// fetched signals after every completed call.
	fetched chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snaps:   make(map[string]*telemetry.Snapshot),
		fetched: make(chan struct{}, 16),
	}
}

func (f *fakeFetcher) CurrentState(ctx context.Context, systemID string) (*telemetry.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	snap, err := f.snaps[systemID], f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	defer func() { f.fetched <- struct{}{} }()
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.New("unknown system")
	}
	return snap, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) polls() []log.PollEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []log.PollEvent
	for _, ev := range c.events {
		if ev.Poll != nil {
			out = append(out, *ev.Poll)
		}
	}
	return out
}

func (c *captureLogger) hasError(message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Error != nil && ev.Error.Message == message {
			return true
		}
	}
	return false
}

func snapAt(systemID string, ts time.Time, soc float64) *telemetry.Snapshot {
	return &telemetry.Snapshot{
		SystemID:     systemID,
		Timestamp:    ts,
		Measurements: map[string]float64{"soc": soc},
	}
}

// testPoller wires a poller with a hand-driven tick channel.
func testPoller(fetcher Fetcher) (*Poller, *telemetry.Store, *dispatch.Dispatcher, chan time.Time) {
	store := telemetry.NewStore()
	dispatcher := dispatch.NewDispatcher()
	p := New(fetcher, store, dispatcher)
	ticks := make(chan time.Time)
	p.after = func(time.Duration) <-chan time.Time { return ticks }
	return p, store, dispatcher, ticks
}

func waitFetched(t *testing.T, f *fakeFetcher) {
	t.Helper()
	select {
	case <-f.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
	}
}

func TestPollPublishesAndDispatches(t *testing.T) {
	fetcher := newFakeFetcher()
	ts := time.UnixMilli(1000)
	fetcher.snaps["sys-001"] = snapAt("sys-001", ts, 42)

	p, store, dispatcher, ticks := testPoller(fetcher)
	defer p.Close()

	received := make(chan *telemetry.Snapshot, 1)
	dispatcher.OnTelemetry("sys-001", func(snap *telemetry.Snapshot) {
		received <- snap
	})

	stop := p.Start("sys-001", time.Second)
	defer stop()

	ticks <- time.Now()
	waitFetched(t, fetcher)

	select {
	case snap := <-received:
		if got, _ := snap.Measurement("soc"); got != 42 {
			t.Errorf("soc = %v, want 42", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was not dispatched")
	}

	latest := store.Latest("sys-001")
	if latest == nil || !latest.Timestamp.Equal(ts) {
		t.Errorf("store latest = %+v, want timestamp %v", latest, ts)
	}
}

func TestStalePollResultIsDiscarded(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snaps["sys-001"] = snapAt("sys-001", time.UnixMilli(100), 42)

	p, store, dispatcher, ticks := testPoller(fetcher)
	defer p.Close()

	// A push already delivered a fresher snapshot.
	store.Publish(snapAt("sys-001", time.UnixMilli(150), 45))

	dispatched := make(chan struct{}, 1)
	dispatcher.OnTelemetry("sys-001", func(*telemetry.Snapshot) {
		dispatched <- struct{}{}
	})

	stop := p.Start("sys-001", time.Second)
	defer stop()

	ticks <- time.Now()
	waitFetched(t, fetcher)

	select {
	case <-dispatched:
		t.Fatal("stale poll result was dispatched")
	case <-time.After(50 * time.Millisecond):
	}

	if got, _ := store.Latest("sys-001").Measurement("soc"); got != 45 {
		t.Errorf("soc = %v, want 45 (push must win)", got)
	}
}

func TestTickDuringOutstandingFetchIsSkipped(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snaps["sys-001"] = snapAt("sys-001", time.UnixMilli(100), 42)
	fetcher.block = make(chan struct{})

	logger := &captureLogger{}
	p, _, _, ticks := testPoller(fetcher)
	p.SetLogger(logger)
	defer p.Close()

	stop := p.Start("sys-001", time.Second)
	defer stop()

	ticks <- time.Now() // starts the blocked fetch
	ticks <- time.Now() // must be skipped, not queued

	// The skip is logged synchronously on the tick path.
	deadline := time.Now().Add(2 * time.Second)
	for {
		skipped := false
		for _, ev := range logger.polls() {
			if ev.Skipped {
				skipped = true
			}
		}
		if skipped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("skipped tick was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(fetcher.block)
	waitFetched(t, fetcher)

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetch ran %d times, want 1", got)
	}
}

func TestFetchErrorKeepsLastSnapshot(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("api unavailable")

	p, store, _, ticks := testPoller(fetcher)
	defer p.Close()

	store.Publish(snapAt("sys-001", time.UnixMilli(100), 42))

	stop := p.Start("sys-001", time.Second)
	defer stop()

	ticks <- time.Now()
	waitFetched(t, fetcher)

	if got, _ := store.Latest("sys-001").Measurement("soc"); got != 42 {
		t.Errorf("soc = %v, want 42 (stale kept on fetch error)", got)
	}
}

func TestStartIsReferenceCounted(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _, _ := testPoller(fetcher)
	defer p.Close()

	stop1 := p.Start("sys-001", time.Second)
	stop2 := p.Start("sys-001", time.Second)

	stop1()
	if !p.Polling("sys-001") {
		t.Fatal("loop ended while a reference remained")
	}

	stop2()
	if p.Polling("sys-001") {
		t.Error("loop still active after last reference dropped")
	}

	// Stop is idempotent.
	stop2()
}

func TestCloseStopsAllLoops(t *testing.T) {
	fetcher := newFakeFetcher()
	p, _, _, _ := testPoller(fetcher)

	p.Start("sys-001", time.Second)
	p.Start("sys-002", time.Second)

	p.Close()

	if p.Polling("sys-001") || p.Polling("sys-002") {
		t.Error("loops still active after Close")
	}
	if stop := p.Start("sys-003", time.Second); stop == nil {
		t.Error("Start after Close returned nil stop")
	}
}

// nilFetcher answers every request with no snapshot and no error.
type nilFetcher struct{}

func (nilFetcher) CurrentState(context.Context, string) (*telemetry.Snapshot, error) {
	return nil, nil
}

func TestFetcherReturningNoSnapshotIsLogged(t *testing.T) {
	p, store, _, ticks := testPoller(nilFetcher{})
	logger := &captureLogger{}
	p.SetLogger(logger)
	defer p.Close()

	stop := p.Start("sys-001", time.Second)
	defer stop()

	ticks <- time.Now()

	deadline := time.Now().Add(2 * time.Second)
	for !logger.hasError("fetcher returned no snapshot") {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the empty-result error event")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if store.Latest("sys-001") != nil {
		t.Error("empty fetch result must not publish")
	}
	if polls := logger.polls(); len(polls) != 0 {
		t.Errorf("poll events = %v, want none", polls)
	}
}
