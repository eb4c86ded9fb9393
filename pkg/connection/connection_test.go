package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		// Expected sequence (without jitter): 1s, 2s, 4s, 8s, 16s, 30s, 30s...
		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()

			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Exhaustion", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{MaxAttempts: 3})

		for i := 0; i < 3; i++ {
			if b.Exhausted() {
				t.Fatalf("Exhausted() = true after %d attempts, want 3", i)
			}
			b.Next()
		}
		if !b.Exhausted() {
			t.Error("Exhausted() = false after 3 attempts")
		}

		b.Reset()
		if b.Exhausted() {
			t.Error("Exhausted() = true after Reset")
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		samples := make([]time.Duration, 10)
		for i := range samples {
			samples[i] = b.addJitter(time.Second)
		}

		for i, s := range samples {
			if s < time.Second || s > time.Duration(float64(time.Second)*1.25)+time.Millisecond {
				t.Errorf("Sample %d: %v out of expected range [1s, 1.25s]", i, s)
			}
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        300 * time.Millisecond,
			Multiplier: 2.0,
			Jitter:     0, // No jitter for deterministic test
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			300 * time.Millisecond, // Capped
			300 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Next() #%d = %v, want %v", i, got, exp)
			}
		}
	})
}

// immediate replaces the backoff wait in tests so retries run without
// real delays.
func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestManagerConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var connects atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			connects.Add(1)
			return nil
		})

		var connectedCalls atomic.Int32
		m.OnConnected(func() { connectedCalls.Add(1) })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if m.State() != StateConnected {
			t.Errorf("State() = %v, want CONNECTED", m.State())
		}
		if connects.Load() != 1 {
			t.Errorf("connectFn called %d times, want 1", connects.Load())
		}
		if connectedCalls.Load() != 1 {
			t.Errorf("OnConnected fired %d times, want 1", connectedCalls.Load())
		}
	})

	t.Run("Failure", func(t *testing.T) {
		wantErr := errors.New("refused")
		m := NewManager(func(ctx context.Context) error { return wantErr })

		err := m.Connect(context.Background())
		if !errors.Is(err, wantErr) {
			t.Fatalf("Connect() error = %v, want %v", err, wantErr)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("AlreadyConnected", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
		}
	})
}

func TestManagerStateTransitions(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil })

	var mu sync.Mutex
	var transitions []string
	m.OnStateChange(func(old, new State) {
		mu.Lock()
		transitions = append(transitions, old.String()+"->"+new.String())
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"DISCONNECTED->CONNECTING",
		"CONNECTING->CONNECTED",
		"CONNECTED->DISCONNECTED",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestManagerReconnect(t *testing.T) {
	t.Run("RecoversAfterFailures", func(t *testing.T) {
		var attempts atomic.Int32
		m := NewManagerWithBackoff(func(ctx context.Context) error {
			// First call is the initial connect; fail the next two
			// reconnect attempts, then succeed.
			n := attempts.Add(1)
			if n == 2 || n == 3 {
				return errors.New("still down")
			}
			return nil
		}, BackoffConfig{MaxAttempts: 5})
		m.after = immediate

		var connectedCalls atomic.Int32
		m.OnConnected(func() { connectedCalls.Add(1) })

		connected := make(chan struct{}, 2)
		m.OnStateChange(func(old, new State) {
			if new == StateConnected && old == StateReconnecting {
				connected <- struct{}{}
			}
		})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		m.NotifyConnectionLost()
		if m.State() != StateReconnecting {
			t.Fatalf("State() = %v after loss, want RECONNECTING", m.State())
		}

		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reconnection")
		}

		if m.State() != StateConnected {
			t.Errorf("State() = %v, want CONNECTED", m.State())
		}
		// Initial connect + successful reconnect.
		if connectedCalls.Load() != 2 {
			t.Errorf("OnConnected fired %d times, want 2", connectedCalls.Load())
		}
	})

	t.Run("ExhaustionDropsToDisconnected", func(t *testing.T) {
		var attempts atomic.Int32
		m := NewManagerWithBackoff(func(ctx context.Context) error {
			if attempts.Add(1) == 1 {
				return nil // Initial connect succeeds
			}
			return errors.New("gone")
		}, BackoffConfig{MaxAttempts: 3})
		m.after = immediate

		done := make(chan struct{}, 1)
		m.OnDisconnected(func() { done <- struct{}{} })

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		m.NotifyConnectionLost()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for exhaustion")
		}

		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		// 1 initial + 3 bounded retries.
		if got := attempts.Load(); got != 4 {
			t.Errorf("connectFn called %d times, want 4", got)
		}

		// Terminal until an explicit Connect.
		time.Sleep(50 * time.Millisecond)
		if m.State() != StateDisconnected {
			t.Error("state changed after exhaustion without Connect")
		}
	})
}

func TestManagerDisconnect(t *testing.T) {
	t.Run("Idempotent", func(t *testing.T) {
		m := NewManager(func(ctx context.Context) error { return nil })

		m.Disconnect() // From Disconnected: no-op
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		m.Disconnect()
		m.Disconnect()
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("CancelsRetryLoop", func(t *testing.T) {
		block := make(chan struct{})
		var attempts atomic.Int32
		m := NewManager(func(ctx context.Context) error {
			if attempts.Add(1) == 1 {
				return nil
			}
			<-block
			return errors.New("never")
		})
		// Real timer: the retry must be waiting in backoff when we cancel.
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		m.NotifyConnectionLost()

		m.Disconnect() // Must cancel the pending backoff timer
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("connectFn called %d times after cancel, want 1", got)
		}
		close(block)
	})
}

func TestManagerConnectRaces(t *testing.T) {
	t.Run("DisconnectDuringDial", func(t *testing.T) {
		dialing := make(chan struct{})
		release := make(chan struct{})
		m := NewManager(func(ctx context.Context) error {
			close(dialing)
			<-release
			return nil
		})

		result := make(chan error, 1)
		go func() { result <- m.Connect(context.Background()) }()

		<-dialing
		m.Disconnect()
		close(release)

		if err := <-result; !errors.Is(err, ErrConnectAborted) {
			t.Fatalf("Connect() error = %v, want ErrConnectAborted", err)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("DisconnectDuringFailingDial", func(t *testing.T) {
		dialing := make(chan struct{})
		release := make(chan struct{})
		wantErr := errors.New("refused")
		m := NewManager(func(ctx context.Context) error {
			close(dialing)
			<-release
			return wantErr
		})

		result := make(chan error, 1)
		go func() { result <- m.Connect(context.Background()) }()

		<-dialing
		m.Disconnect()
		close(release)

		// The dial's own failure wins over the abort.
		if err := <-result; !errors.Is(err, wantErr) {
			t.Fatalf("Connect() error = %v, want %v", err, wantErr)
		}
		if m.State() != StateDisconnected {
			t.Errorf("State() = %v, want DISCONNECTED", m.State())
		}
	})

	t.Run("LossBeforeCommit", func(t *testing.T) {
		// A transport that dies between a successful dial and the state
		// commit must still trigger reconnection.
		var attempts atomic.Int32
		var m *Manager
		m = NewManagerWithBackoff(func(ctx context.Context) error {
			if attempts.Add(1) == 1 {
				m.NotifyConnectionLost()
			}
			return nil
		}, BackoffConfig{MaxAttempts: 3})
		m.after = immediate

		connected := make(chan struct{}, 1)
		m.OnStateChange(func(old, new State) {
			if new == StateConnected && old == StateReconnecting {
				connected <- struct{}{}
			}
		})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for recovery from early loss")
		}

		if m.State() != StateConnected {
			t.Errorf("State() = %v, want CONNECTED", m.State())
		}
		if got := attempts.Load(); got != 2 {
			t.Errorf("connectFn called %d times, want 2", got)
		}
	})
}
