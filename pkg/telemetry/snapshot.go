// Package telemetry holds the consumer-visible telemetry state.
//
// Each monitored system has one Snapshot cell. Push updates and fallback
// polls both publish into the same cell; the cell applies last-writer-wins
// by snapshot timestamp, so a stale poll response arriving after a newer
// push update can never win. Snapshots are replaced wholesale, never
// merged field by field, which rules out reading torn state assembled
// from two delivery paths.
package telemetry

import (
	"sync"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// Snapshot is the latest known telemetry state for one system.
// Immutable once constructed.
type Snapshot struct {
	// SystemID identifies the monitored system.
	SystemID string

	// Timestamp is when the measurements were taken (server clock).
	Timestamp time.Time

	// Measurements maps measurement names (soc, power_kw, temp_c, ...)
	// to values.
	Measurements map[string]float64

	// Flags are derived condition markers (charging, grid_export, ...).
	Flags []string
}

// FromWire builds a Snapshot from a decoded telemetry payload.
// The payload's maps are copied so later mutation cannot leak in.
func FromWire(p *wire.TelemetryPayload) *Snapshot {
	measurements := make(map[string]float64, len(p.Measurements))
	for k, v := range p.Measurements {
		measurements[k] = v
	}
	var flags []string
	if len(p.Flags) > 0 {
		flags = append(flags, p.Flags...)
	}
	return &Snapshot{
		SystemID:     p.SystemID,
		Timestamp:    p.Timestamp.Time(),
		Measurements: measurements,
		Flags:        flags,
	}
}

// HasFlag reports whether the snapshot carries the given derived flag.
func (s *Snapshot) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Measurement returns a named measurement and whether it is present.
func (s *Snapshot) Measurement(name string) (float64, bool) {
	v, ok := s.Measurements[name]
	return v, ok
}

// Store is the per-system snapshot state, shared by the push and poll
// delivery paths.
type Store struct {
	mu     sync.RWMutex
	latest map[string]*Snapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{latest: make(map[string]*Snapshot)}
}

// Publish applies last-writer-wins by timestamp for the snapshot's
// system. It returns true when the snapshot is newer than the stored one
// (or the first for its system) and became visible; false when a newer
// snapshot already exists and the write was discarded.
func (s *Store) Publish(snap *Snapshot) bool {
	if snap == nil || snap.SystemID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.latest[snap.SystemID]; ok && !snap.Timestamp.After(existing.Timestamp) {
		return false
	}
	s.latest[snap.SystemID] = snap
	return true
}

// Latest returns the current snapshot for a system, or nil when none has
// been published yet.
func (s *Store) Latest(systemID string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[systemID]
}

// Systems returns the IDs of all systems with a published snapshot.
func (s *Store) Systems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	return ids
}
