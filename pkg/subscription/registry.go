package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// Sender delivers subscription control commands to the server.
// Implementations return an error when the command could not be
// delivered (typically: channel not connected); the registry treats
// that as "defer until replay", never as a caller-visible failure.
type Sender interface {
	Subscribe(systemID string) error
	Unsubscribe(systemID string) error
}

// Registry tracks, per system, how many consumers want its updates.
// Only the Registry mutates reference counts; everything else observes
// through Snapshot and Count.
type Registry struct {
	mu sync.Mutex

	sender Sender

	// refs is the live reference count per system.
	refs map[string]int

	// announced marks systems the current connection has successfully
	// subscribed at the server. Cleared as a whole on connection loss,
	// per entry on unsubscribe.
	announced map[string]bool

	logger log.Logger
}

// NewRegistry creates a registry that delivers control traffic through
// sender.
func NewRegistry(sender Sender) *Registry {
	return &Registry{
		sender:    sender,
		refs:      make(map[string]int),
		announced: make(map[string]bool),
		logger:    log.NoopLogger{},
	}
}

// SetLogger installs an event logger. Pass nil to disable.
func (r *Registry) SetLogger(logger log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	r.logger = logger
}

// Acquire registers interest in systemID and returns the token whose
// release withdraws it. The subscribe command goes to the server only on
// the 0 to 1 transition; if it cannot be delivered now it is covered by
// the next replay.
func (r *Registry) Acquire(systemID string) *Token {
	r.mu.Lock()
	r.refs[systemID]++
	first := r.refs[systemID] == 1
	r.mu.Unlock()

	if first {
		err := r.sender.Subscribe(systemID)

		r.mu.Lock()
		if err == nil && r.refs[systemID] > 0 {
			r.announced[systemID] = true
		}
		logger := r.logger
		r.mu.Unlock()

		logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerService,
			Category:  log.CategoryControl,
			SystemID:  systemID,
			Control: &log.ControlEvent{
				Command:  string(wire.KindSubscribeSystem),
				Deferred: err != nil,
			},
		})
	}

	return &Token{registry: r, systemID: systemID}
}

// release is called by Token.Release exactly once.
func (r *Registry) release(systemID string) {
	r.mu.Lock()
	count, ok := r.refs[systemID]
	if !ok {
		r.mu.Unlock()
		return
	}
	count--
	last := count == 0
	if last {
		delete(r.refs, systemID)
	} else {
		r.refs[systemID] = count
	}
	wasAnnounced := r.announced[systemID]
	if last {
		delete(r.announced, systemID)
	}
	logger := r.logger
	r.mu.Unlock()

	if !last {
		return
	}

	// Only tell the server if it ever heard about this subscription on
	// the current connection. A failed unsubscribe needs no retry: the
	// server forgets everything on disconnect anyway.
	if wasAnnounced {
		_ = r.sender.Unsubscribe(systemID)
	}

	logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerService,
		Category:  log.CategoryControl,
		SystemID:  systemID,
		Control: &log.ControlEvent{
			Command: string(wire.KindUnsubscribeSystem),
		},
	})
}

// ConnectionLost clears the announced set: the server has forgotten all
// subscriptions, so everything held must be replayed.
func (r *Registry) ConnectionLost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced = make(map[string]bool)
}

// Replay re-announces every held system exactly once. Call it on every
// entry into Connected. A per-system send failure leaves that system
// unannounced; it is picked up again on the next replay cycle.
func (r *Registry) Replay() {
	r.mu.Lock()
	pending := make([]string, 0, len(r.refs))
	for id := range r.refs {
		if !r.announced[id] {
			pending = append(pending, id)
		}
	}
	logger := r.logger
	r.mu.Unlock()

	sort.Strings(pending)

	for _, id := range pending {
		err := r.sender.Subscribe(id)

		r.mu.Lock()
		if err == nil && r.refs[id] > 0 {
			r.announced[id] = true
		}
		r.mu.Unlock()

		logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionOut,
			Layer:     log.LayerService,
			Category:  log.CategoryControl,
			SystemID:  id,
			Control: &log.ControlEvent{
				Command:  string(wire.KindSubscribeSystem),
				Replay:   true,
				Deferred: err != nil,
			},
		})
	}
}

// Snapshot returns the system IDs currently held by at least one token,
// sorted for deterministic iteration.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.refs))
	for id := range r.refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the reference count for a system.
func (r *Registry) Count(systemID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[systemID]
}

// Token represents one consumer's hold on a system subscription.
// Dropping the hold goes through Release; releasing twice is a no-op.
type Token struct {
	registry *Registry
	systemID string
	once     sync.Once
}

// SystemID returns the system this token holds.
func (t *Token) SystemID() string {
	return t.systemID
}

// Release withdraws this consumer's interest. Idempotent.
func (t *Token) Release() {
	t.once.Do(func() {
		t.registry.release(t.systemID)
	})
}
