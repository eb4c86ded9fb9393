package notify

import (
	"sync"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// DefaultCapacity is the maximum number of retained notifications.
const DefaultCapacity = 100

// Notification is a locally materialized, mutable wrapper around an
// alert event. The aggregator owns all mutation.
type Notification struct {
	Alert      wire.Alert
	Read       bool
	ReceivedAt time.Time
	DeletedAt  *time.Time
}

// Notifier triggers user-facing side effects for new notifications.
// Implementations must not block; they run on the delivery path.
type Notifier interface {
	PlaySound(n Notification)
	ShowDesktop(n Notification)
}

// NoopNotifier discards all side effects.
type NoopNotifier struct{}

func (NoopNotifier) PlaySound(Notification)   {}
func (NoopNotifier) ShowDesktop(Notification) {}

// Compile-time interface satisfaction check.
var _ Notifier = NoopNotifier{}

// Config controls aggregation and side-effect gating.
type Config struct {
	// Capacity bounds the retained notifications (default: 100).
	Capacity int

	// SoundEnabled and DesktopEnabled are the per-channel toggles.
	SoundEnabled   bool
	DesktopEnabled bool

	// MinSeverity is the least severe alert that triggers side
	// effects (default: high). Counters and the list itself are not
	// gated, only sound/desktop.
	MinSeverity wire.Severity

	// Cooldown is the minimum interval between side effects on the
	// same channel, so an alert storm does not turn into a siren
	// (default: 10s).
	Cooldown time.Duration
}

// Aggregator consumes dispatched alert events and maintains the
// notification list and its derived counters.
type Aggregator struct {
	mu sync.Mutex

	config   Config
	notifier Notifier

	// entries is newest-first by arrival.
	entries []*Notification
	byID    map[string]*Notification

	lastSound   time.Time
	lastDesktop time.Time

	onChange func()

	// now is replaced in tests for deterministic cooldown behavior.
	now func() time.Time
}

// NewAggregator creates an aggregator delivering side effects through
// notifier. Pass nil to disable side effects entirely.
func NewAggregator(config Config, notifier Notifier) *Aggregator {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.MinSeverity == "" {
		config.MinSeverity = wire.SeverityHigh
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 10 * time.Second
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Aggregator{
		config:   config,
		notifier: notifier,
		byID:     make(map[string]*Notification),
		now:      time.Now,
	}
}

// OnChange sets a callback fired after every visible mutation (new
// notification, mark-read, delete, clear). Must not call back into the
// aggregator.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// Ingest records an alert event. Returns true when the alert was new;
// a second arrival of the same ID leaves the existing notification
// untouched and triggers nothing.
func (a *Aggregator) Ingest(alert wire.Alert) bool {
	a.mu.Lock()

	if _, exists := a.byID[alert.ID]; exists {
		a.mu.Unlock()
		return false
	}

	n := &Notification{
		Alert:      alert,
		ReceivedAt: a.now(),
	}
	a.byID[alert.ID] = n
	a.entries = append([]*Notification{n}, a.entries...)

	// Evict oldest beyond capacity.
	for len(a.entries) > a.config.Capacity {
		evicted := a.entries[len(a.entries)-1]
		a.entries = a.entries[:len(a.entries)-1]
		delete(a.byID, evicted.Alert.ID)
	}

	fireSound, fireDesktop := a.sideEffectsLocked(alert)
	notifier := a.notifier
	onChange := a.onChange
	a.mu.Unlock()

	// Side effects fire at most once, for genuinely new entries only.
	if fireSound {
		notifier.PlaySound(*n)
	}
	if fireDesktop {
		notifier.ShowDesktop(*n)
	}
	if onChange != nil {
		onChange()
	}
	return true
}

// sideEffectsLocked applies the channel toggles, severity threshold and
// per-channel cooldown. Caller must hold a.mu.
func (a *Aggregator) sideEffectsLocked(alert wire.Alert) (sound, desktop bool) {
	if alert.Severity.Level() < a.config.MinSeverity.Level() {
		return false, false
	}
	now := a.now()
	if a.config.SoundEnabled && now.Sub(a.lastSound) >= a.config.Cooldown {
		a.lastSound = now
		sound = true
	}
	if a.config.DesktopEnabled && now.Sub(a.lastDesktop) >= a.config.Cooldown {
		a.lastDesktop = now
		desktop = true
	}
	return sound, desktop
}

// List returns the visible notifications, newest first. The returned
// values are copies; mutation goes through the aggregator.
func (a *Aggregator) List() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Notification, 0, len(a.entries))
	for _, n := range a.entries {
		if n.DeletedAt == nil {
			out = append(out, *n)
		}
	}
	return out
}

// UnreadCount returns the number of visible unread notifications.
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, n := range a.entries {
		if n.DeletedAt == nil && !n.Read {
			count++
		}
	}
	return count
}

// CriticalCount returns the number of visible unread critical
// notifications.
func (a *Aggregator) CriticalCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for _, n := range a.entries {
		if n.DeletedAt == nil && !n.Read && n.Alert.Severity == wire.SeverityCritical {
			count++
		}
	}
	return count
}

// MarkRead marks one notification as read. Returns false for unknown
// or deleted IDs.
func (a *Aggregator) MarkRead(alertID string) bool {
	a.mu.Lock()
	n, ok := a.byID[alertID]
	changed := ok && n.DeletedAt == nil && !n.Read
	if changed {
		n.Read = true
	}
	onChange := a.onChange
	a.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
	return changed
}

// MarkAllRead marks every visible notification as read.
func (a *Aggregator) MarkAllRead() {
	a.mu.Lock()
	changed := false
	for _, n := range a.entries {
		if n.DeletedAt == nil && !n.Read {
			n.Read = true
			changed = true
		}
	}
	onChange := a.onChange
	a.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
}

// Delete hides one notification. The entry keeps occupying its
// capacity slot, and its ID stays known so a replayed alert is not
// resurrected. Returns false for unknown or already-deleted IDs.
func (a *Aggregator) Delete(alertID string) bool {
	a.mu.Lock()
	n, ok := a.byID[alertID]
	changed := ok && n.DeletedAt == nil
	if changed {
		now := a.now()
		n.DeletedAt = &now
	}
	onChange := a.onChange
	a.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
	return changed
}

// ClearAll removes every notification.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	a.entries = nil
	a.byID = make(map[string]*Notification)
	onChange := a.onChange
	a.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// Len returns the number of retained entries, deleted included.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
