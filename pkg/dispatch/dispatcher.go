package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// TelemetryHandler receives published snapshots. The snapshot carries
// its system ID, so the same signature serves per-system and global
// registrations.
type TelemetryHandler func(snap *telemetry.Snapshot)

// StatusHandler receives operational status changes.
type StatusHandler func(systemID, status string)

// AlertHandler receives alert events.
type AlertHandler func(alert wire.Alert)

// handlerKind distinguishes the registration tables.
type handlerKind uint8

const (
	kindTelemetry handlerKind = iota
	kindStatus
	kindAlert
)

// entry is one registered handler. Slices of entries preserve
// registration order.
type entry struct {
	id        uint64
	telemetry TelemetryHandler
	status    StatusHandler
	alert     AlertHandler
}

// Dispatcher demultiplexes inbound messages by system ID and kind and
// invokes the interested handlers.
type Dispatcher struct {
	mu sync.RWMutex

	// Per-system handler tables.
	telemetryBySystem map[string][]*entry
	statusBySystem    map[string][]*entry

	// Global handler tables.
	telemetryGlobal []*entry
	statusGlobal    []*entry
	alertHandlers   []*entry

	logger log.Logger
}

// registrationID generates unique handler registration IDs.
var registrationID atomic.Uint64

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		telemetryBySystem: make(map[string][]*entry),
		statusBySystem:    make(map[string][]*entry),
		logger:            log.NoopLogger{},
	}
}

// SetLogger installs an event logger. Pass nil to disable.
func (d *Dispatcher) SetLogger(logger log.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	d.logger = logger
}

// OnTelemetry registers a handler for one system's snapshots.
func (d *Dispatcher) OnTelemetry(systemID string, fn TelemetryHandler) *Registration {
	e := &entry{id: registrationID.Add(1), telemetry: fn}

	d.mu.Lock()
	d.telemetryBySystem[systemID] = append(d.telemetryBySystem[systemID], e)
	d.mu.Unlock()

	return &Registration{dispatcher: d, kind: kindTelemetry, systemID: systemID, entryID: e.id}
}

// OnAnyTelemetry registers a handler for every system's snapshots,
// regardless of subscriptions.
func (d *Dispatcher) OnAnyTelemetry(fn TelemetryHandler) *Registration {
	e := &entry{id: registrationID.Add(1), telemetry: fn}

	d.mu.Lock()
	d.telemetryGlobal = append(d.telemetryGlobal, e)
	d.mu.Unlock()

	return &Registration{dispatcher: d, kind: kindTelemetry, entryID: e.id}
}

// OnStatus registers a handler for one system's status changes.
func (d *Dispatcher) OnStatus(systemID string, fn StatusHandler) *Registration {
	e := &entry{id: registrationID.Add(1), status: fn}

	d.mu.Lock()
	d.statusBySystem[systemID] = append(d.statusBySystem[systemID], e)
	d.mu.Unlock()

	return &Registration{dispatcher: d, kind: kindStatus, systemID: systemID, entryID: e.id}
}

// OnAnyStatus registers a handler for every system's status changes.
func (d *Dispatcher) OnAnyStatus(fn StatusHandler) *Registration {
	e := &entry{id: registrationID.Add(1), status: fn}

	d.mu.Lock()
	d.statusGlobal = append(d.statusGlobal, e)
	d.mu.Unlock()

	return &Registration{dispatcher: d, kind: kindStatus, entryID: e.id}
}

// OnAlert registers an alert handler. Alerts reach every registered
// handler whether or not the system is subscribed.
func (d *Dispatcher) OnAlert(fn AlertHandler) *Registration {
	e := &entry{id: registrationID.Add(1), alert: fn}

	d.mu.Lock()
	d.alertHandlers = append(d.alertHandlers, e)
	d.mu.Unlock()

	return &Registration{dispatcher: d, kind: kindAlert, entryID: e.id}
}

// DispatchTelemetry delivers a snapshot to the system's handlers and
// all global telemetry handlers. Returns the number of handlers invoked.
func (d *Dispatcher) DispatchTelemetry(snap *telemetry.Snapshot) int {
	d.mu.RLock()
	targets := make([]*entry, 0, len(d.telemetryBySystem[snap.SystemID])+len(d.telemetryGlobal))
	targets = append(targets, d.telemetryBySystem[snap.SystemID]...)
	targets = append(targets, d.telemetryGlobal...)
	d.mu.RUnlock()

	for _, e := range targets {
		d.invoke(snap.SystemID, func() { e.telemetry(snap) })
	}
	return len(targets)
}

// DispatchStatus delivers a status change to the system's handlers and
// all global status handlers. Returns the number of handlers invoked.
func (d *Dispatcher) DispatchStatus(systemID, status string) int {
	d.mu.RLock()
	targets := make([]*entry, 0, len(d.statusBySystem[systemID])+len(d.statusGlobal))
	targets = append(targets, d.statusBySystem[systemID]...)
	targets = append(targets, d.statusGlobal...)
	d.mu.RUnlock()

	for _, e := range targets {
		d.invoke(systemID, func() { e.status(systemID, status) })
	}
	return len(targets)
}

// DispatchAlert delivers an alert to every alert handler.
// Returns the number of handlers invoked.
func (d *Dispatcher) DispatchAlert(alert wire.Alert) int {
	d.mu.RLock()
	targets := make([]*entry, len(d.alertHandlers))
	copy(targets, d.alertHandlers)
	d.mu.RUnlock()

	for _, e := range targets {
		d.invoke(alert.SystemID, func() { e.alert(alert) })
	}
	return len(targets)
}

// invoke runs one handler, containing panics.
func (d *Dispatcher) invoke(systemID string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.RLock()
			logger := d.logger
			d.mu.RUnlock()

			logger.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionIn,
				Layer:     log.LayerService,
				Category:  log.CategoryError,
				SystemID:  systemID,
				Error: &log.ErrorEvent{
					Layer:   log.LayerService,
					Message: fmt.Sprintf("handler panic: %v", r),
					Context: "dispatch",
				},
			})
		}
	}()
	fn()
}

// HandlerSystems returns the distinct system IDs with at least one
// per-system handler registered.
func (d *Dispatcher) HandlerSystems() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	for id, entries := range d.telemetryBySystem {
		if len(entries) > 0 {
			seen[id] = true
		}
	}
	for id, entries := range d.statusBySystem {
		if len(entries) > 0 {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// remove drops an entry from its table. Called by Registration.Cancel.
func (d *Dispatcher) remove(kind handlerKind, systemID string, entryID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch kind {
	case kindTelemetry:
		if systemID != "" {
			d.telemetryBySystem[systemID] = removeEntry(d.telemetryBySystem[systemID], entryID)
			if len(d.telemetryBySystem[systemID]) == 0 {
				delete(d.telemetryBySystem, systemID)
			}
		} else {
			d.telemetryGlobal = removeEntry(d.telemetryGlobal, entryID)
		}
	case kindStatus:
		if systemID != "" {
			d.statusBySystem[systemID] = removeEntry(d.statusBySystem[systemID], entryID)
			if len(d.statusBySystem[systemID]) == 0 {
				delete(d.statusBySystem, systemID)
			}
		} else {
			d.statusGlobal = removeEntry(d.statusGlobal, entryID)
		}
	case kindAlert:
		d.alertHandlers = removeEntry(d.alertHandlers, entryID)
	}
}

func removeEntry(entries []*entry, id uint64) []*entry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

// Registration is a caller-held token for one registered handler.
// Cancelling it is the only way to deregister.
type Registration struct {
	dispatcher *Dispatcher
	kind       handlerKind
	systemID   string
	entryID    uint64
	once       sync.Once
}

// Cancel removes the handler. Idempotent; after Cancel returns, the
// handler will not be invoked again.
func (r *Registration) Cancel() {
	r.once.Do(func() {
		r.dispatcher.remove(r.kind, r.systemID, r.entryID)
	})
}
