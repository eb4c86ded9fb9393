package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/dispatch"
	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
)

const (
	// DefaultInterval between polls of one system.
	DefaultInterval = 30 * time.Second

	// DefaultFetchTimeout bounds one fetch request.
	DefaultFetchTimeout = 10 * time.Second
)

// Fetcher retrieves the current state of one system over the
// request/response API.
type Fetcher interface {
	CurrentState(ctx context.Context, systemID string) (*telemetry.Snapshot, error)
}

// loop is one per-system polling goroutine. Reference counted, so
// overlapping watchers of the same system share one timer.
type loop struct {
	systemID string
	interval time.Duration

	refs int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inFlight atomic.Bool
}

// Poller drives periodic state fetches and publishes winning snapshots
// through the store and dispatcher.
type Poller struct {
	fetcher    Fetcher
	store      *telemetry.Store
	dispatcher *dispatch.Dispatcher

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool

	fetchTimeout time.Duration
	logger       log.Logger

	// after is replaced in tests for deterministic ticks.
	after func(d time.Duration) <-chan time.Time
}

// New creates a poller publishing into store and dispatcher.
func New(fetcher Fetcher, store *telemetry.Store, dispatcher *dispatch.Dispatcher) *Poller {
	return &Poller{
		fetcher:      fetcher,
		store:        store,
		dispatcher:   dispatcher,
		loops:        make(map[string]*loop),
		fetchTimeout: DefaultFetchTimeout,
		logger:       log.NoopLogger{},
		after:        time.After,
	}
}

// SetLogger installs an event logger. Pass nil to disable.
func (p *Poller) SetLogger(logger log.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	p.logger = logger
}

// SetFetchTimeout overrides the per-request timeout.
func (p *Poller) SetFetchTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d > 0 {
		p.fetchTimeout = d
	}
}

// Start begins (or joins) polling systemID every interval. The
// returned stop function drops this reference; the loop ends when the
// last reference is dropped. Stop is idempotent and returns after the
// loop goroutine has exited, so no fetch outlives it.
func (p *Poller) Start(systemID string, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}

	l, ok := p.loops[systemID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		l = &loop{
			systemID: systemID,
			interval: interval,
			ctx:      ctx,
			cancel:   cancel,
			done:     make(chan struct{}),
		}
		p.loops[systemID] = l
		go p.run(l)
	}
	l.refs++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.release(l) })
	}
}

func (p *Poller) release(l *loop) {
	p.mu.Lock()
	l.refs--
	last := l.refs == 0
	if last && p.loops[l.systemID] == l {
		delete(p.loops, l.systemID)
	}
	p.mu.Unlock()

	if last {
		l.cancel()
		<-l.done
	}
}

// Polling reports whether systemID currently has an active loop.
func (p *Poller) Polling(systemID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loops[systemID]
	return ok
}

// Close stops every loop and waits for them. The poller cannot be
// reused afterwards.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	loops := make([]*loop, 0, len(p.loops))
	for _, l := range p.loops {
		loops = append(loops, l)
	}
	p.loops = make(map[string]*loop)
	p.mu.Unlock()

	for _, l := range loops {
		l.cancel()
		<-l.done
	}
}

func (p *Poller) run(l *loop) {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-p.after(l.interval):
			p.tick(l)
		}
	}
}

// tick starts one fetch unless the previous one is still outstanding.
// Fetches run off the timer goroutine so a slow server cannot stall
// tick accounting.
func (p *Poller) tick(l *loop) {
	if !l.inFlight.CompareAndSwap(false, true) {
		p.log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerPoll,
			Category:  log.CategoryPoll,
			SystemID:  l.systemID,
			Poll:      &log.PollEvent{Skipped: true},
		})
		return
	}

	go func() {
		defer l.inFlight.Store(false)
		p.fetch(l)
	}()
}

func (p *Poller) fetch(l *loop) {
	p.mu.Lock()
	timeout := p.fetchTimeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(l.ctx, timeout)
	defer cancel()

	snap, err := p.fetcher.CurrentState(ctx, l.systemID)
	if err != nil {
		// Keep the stale snapshot; the next tick retries.
		p.log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerPoll,
			Category:  log.CategoryError,
			SystemID:  l.systemID,
			Error: &log.ErrorEvent{
				Layer:   log.LayerPoll,
				Message: err.Error(),
				Context: "poll",
			},
		})
		return
	}

	if snap == nil {
		p.log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerPoll,
			Category:  log.CategoryError,
			SystemID:  l.systemID,
			Error: &log.ErrorEvent{
				Layer:   log.LayerPoll,
				Message: "fetcher returned no snapshot",
				Context: "poll",
			},
		})
		return
	}

	published := p.store.Publish(snap)
	if published {
		p.dispatcher.DispatchTelemetry(snap)
	}
	p.log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerPoll,
		Category:  log.CategoryPoll,
		SystemID:  l.systemID,
		Poll: &log.PollEvent{
			Published:         published,
			SnapshotTimestamp: snap.Timestamp.UnixMilli(),
		},
	})
}

func (p *Poller) log(ev log.Event) {
	p.mu.Lock()
	logger := p.logger
	p.mu.Unlock()
	logger.Log(ev)
}
