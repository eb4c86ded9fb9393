package connection

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrAlreadyConnected  = errors.New("already connected")
	ErrConnectInProgress = errors.New("connection attempt in progress")
	ErrConnectAborted    = errors.New("connect aborted")
)

// State represents the connection state. There is exactly one State per
// Manager; consumers observe it through OnStateChange and never mutate it.
type State uint8

const (
	// StateDisconnected indicates no active connection. Reached
	// initially, after Disconnect, and after reconnection attempts are
	// exhausted. Terminal until Connect is called again.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish (or re-establish) the live channel.
// It should return nil on success or an error on failure. The owner of
// the transport resource acquires it here and releases it on Disconnect.
type ConnectFunc func(ctx context.Context) error

// Manager owns the connection state machine and automatic reconnection.
//
// Only the Manager writes State; every other component is a reader. The
// attempt-level failures of reconnection are absorbed here and reflected
// solely in the state signal.
type Manager struct {
	mu sync.Mutex

	state     State
	connectFn ConnectFunc

	backoffCfg     BackoffConfig
	backoff        *Backoff
	attemptTimeout time.Duration

	// lostPending records a connection loss reported while a dial was
	// still committing; it is consumed on the next entry into Connected.
	lostPending bool

	// Cancellation for the in-flight retry goroutine.
	retryCancel context.CancelFunc
	retryWg     sync.WaitGroup

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)

	// after is replaced in tests for deterministic backoff waits.
	after func(time.Duration) <-chan time.Time
}

// NewManager creates a new connection manager with default backoff.
func NewManager(connectFn ConnectFunc) *Manager {
	return NewManagerWithBackoff(connectFn, BackoffConfig{Jitter: JitterFactor})
}

// NewManagerWithBackoff creates a connection manager with custom backoff
// parameters.
func NewManagerWithBackoff(connectFn ConnectFunc, cfg BackoffConfig) *Manager {
	return &Manager{
		state:          StateDisconnected,
		connectFn:      connectFn,
		backoffCfg:     cfg,
		backoff:        NewBackoffWithConfig(cfg),
		attemptTimeout: 30 * time.Second,
		after:          time.After,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect initiates a connection. It is only valid from Disconnected;
// a failed attempt returns the error and drops back to Disconnected
// without consuming the reconnection budget. A Disconnect issued while
// the dial is in flight wins: Connect returns ErrConnectAborted and the
// caller releases the late-arriving transport.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	m.setStateLocked(StateConnecting)
	m.lostPending = false
	m.mu.Unlock()

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state != StateConnecting {
		// Disconnect won the race while the dial was in flight.
		m.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrConnectAborted
	}
	if err != nil {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return err
	}
	m.backoff.Reset()
	m.setStateLocked(StateConnected)
	lost := m.lostPending
	m.lostPending = false
	onConnected := m.onConnected
	m.mu.Unlock()

	if lost {
		m.NotifyConnectionLost()
		return nil
	}
	if onConnected != nil {
		onConnected()
	}
	return nil
}

// NotifyConnectionLost should be called when a transport-level loss is
// detected on an established connection. It moves the state to
// Reconnecting and starts the bounded retry loop. A loss reported while
// a dial is still committing is held and consumed on the entry into
// Connected, so a transport that dies inside that window is not lost.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateReconnecting:
		m.lostPending = true
		m.mu.Unlock()
		return
	case StateConnected:
	default:
		m.mu.Unlock()
		return
	}

	m.lostPending = false
	m.backoff = NewBackoffWithConfig(m.backoffCfg)
	m.setStateLocked(StateReconnecting)

	ctx, cancel := context.WithCancel(context.Background())
	m.retryCancel = cancel
	m.retryWg.Add(1)
	m.mu.Unlock()

	go m.retryLoop(ctx)
}

// Disconnect drops the connection state to Disconnected and cancels any
// pending reconnection timers. It is idempotent and valid from every
// state. The transport resource itself is released by the caller that
// owns it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.retryCancel
	m.retryCancel = nil
	m.lostPending = false

	if m.state == StateDisconnected {
		m.mu.Unlock()
		if cancel != nil {
			cancel()
			m.retryWg.Wait()
		}
		return
	}

	wasUp := m.state == StateConnected || m.state == StateReconnecting
	m.setStateLocked(StateDisconnected)
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.retryWg.Wait()
	}
	if wasUp && onDisconnected != nil {
		onDisconnected()
	}
}

// retryLoop performs bounded reconnection attempts with backoff.
func (m *Manager) retryLoop(ctx context.Context) {
	defer m.retryWg.Done()

	for {
		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()

		m.mu.Lock()
		onReconnecting := m.onReconnecting
		m.mu.Unlock()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-m.after(delay):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
		err := m.connectFn(attemptCtx)
		cancel()

		if ctx.Err() != nil {
			// Disconnect won the race; leave state alone.
			return
		}

		if err == nil {
			m.mu.Lock()
			if m.state != StateReconnecting {
				m.mu.Unlock()
				return
			}
			m.backoff.Reset()
			m.retryCancel = nil
			m.setStateLocked(StateConnected)
			lost := m.lostPending
			m.lostPending = false
			onConnected := m.onConnected
			m.mu.Unlock()

			if lost {
				m.NotifyConnectionLost()
				return
			}
			if onConnected != nil {
				onConnected()
			}
			return
		}

		if m.backoff.Exhausted() {
			m.mu.Lock()
			if m.state != StateReconnecting {
				m.mu.Unlock()
				return
			}
			m.retryCancel = nil
			m.setStateLocked(StateDisconnected)
			onDisconnected := m.onDisconnected
			m.mu.Unlock()

			if onDisconnected != nil {
				onDisconnected()
			}
			return
		}
	}
}

// setStateLocked transitions the state and fires OnStateChange.
// Caller must hold m.mu. The callback is invoked synchronously with the
// lock held; implementations must not call back into the Manager.
func (m *Manager) setStateLocked(newState State) {
	if m.state == newState {
		return
	}
	oldState := m.state
	m.state = newState
	if m.onStateChange != nil {
		m.onStateChange(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes. The callback runs on
// the transition path and must not block or call back into the Manager.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback fired on every entry into Connected,
// including after a reconnect. Subscription replay hangs off this hook.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback fired when an established or
// reconnecting channel drops to Disconnected.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for reconnection attempts.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// SetAttemptTimeout overrides the per-attempt timeout used during
// reconnection. Must be called before reconnection starts.
func (m *Manager) SetAttemptTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attemptTimeout = d
}
