package subscription

import (
	"errors"
	"sync"
	"testing"
)

// fakeSender records control traffic and can simulate a down channel.
type fakeSender struct {
	mu           sync.Mutex
	connected    bool
	failFor      map[string]bool
	subscribes   []string
	unsubscribes []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{connected: true, failFor: make(map[string]bool)}
}

func (s *fakeSender) Subscribe(systemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("not connected")
	}
	if s.failFor[systemID] {
		return errors.New("rejected")
	}
	s.subscribes = append(s.subscribes, systemID)
	return nil
}

func (s *fakeSender) Unsubscribe(systemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("not connected")
	}
	s.unsubscribes = append(s.unsubscribes, systemID)
	return nil
}

func (s *fakeSender) setConnected(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = up
}

func (s *fakeSender) subscribeCount(systemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.subscribes {
		if id == systemID {
			n++
		}
	}
	return n
}

func (s *fakeSender) unsubscribeCount(systemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.unsubscribes {
		if id == systemID {
			n++
		}
	}
	return n
}

func TestRegistryRefCounting(t *testing.T) {
	t.Run("SingleSubscribePerSystem", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		t1 := reg.Acquire("sys-001")
		t2 := reg.Acquire("sys-001")
		t3 := reg.Acquire("sys-001")

		if got := sender.subscribeCount("sys-001"); got != 1 {
			t.Errorf("subscribe sent %d times, want 1", got)
		}
		if got := reg.Count("sys-001"); got != 3 {
			t.Errorf("Count() = %d, want 3", got)
		}

		t1.Release()
		t2.Release()
		if got := sender.unsubscribeCount("sys-001"); got != 0 {
			t.Errorf("unsubscribe sent %d times before last release, want 0", got)
		}

		t3.Release()
		if got := sender.unsubscribeCount("sys-001"); got != 1 {
			t.Errorf("unsubscribe sent %d times, want 1", got)
		}
		if got := reg.Count("sys-001"); got != 0 {
			t.Errorf("Count() = %d after all releases, want 0", got)
		}
	})

	t.Run("ReleaseIdempotent", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		tok := reg.Acquire("sys-001")
		other := reg.Acquire("sys-001")

		tok.Release()
		tok.Release() // Must not decrement again
		tok.Release()

		if got := reg.Count("sys-001"); got != 1 {
			t.Errorf("Count() = %d, want 1 (double release leaked)", got)
		}
		other.Release()
	})

	t.Run("ReacquireAfterZero", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		reg.Acquire("sys-001").Release()
		reg.Acquire("sys-001")

		if got := sender.subscribeCount("sys-001"); got != 2 {
			t.Errorf("subscribe sent %d times across 0->1 transitions, want 2", got)
		}
	})
}

func TestRegistryDeferral(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected(false)
	reg := NewRegistry(sender)

	tok := reg.Acquire("sys-001")
	if got := sender.subscribeCount("sys-001"); got != 0 {
		t.Fatalf("subscribe sent while down, count = %d", got)
	}

	// Channel comes up: replay covers the deferred subscribe.
	sender.setConnected(true)
	reg.Replay()
	if got := sender.subscribeCount("sys-001"); got != 1 {
		t.Errorf("subscribe sent %d times after replay, want 1", got)
	}

	// Releasing afterwards emits the unsubscribe.
	tok.Release()
	if got := sender.unsubscribeCount("sys-001"); got != 1 {
		t.Errorf("unsubscribe sent %d times, want 1", got)
	}
}

func TestRegistryReplay(t *testing.T) {
	t.Run("EachHeldSystemOnce", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		reg.Acquire("sys-001")
		reg.Acquire("sys-001")
		reg.Acquire("sys-002")
		released := reg.Acquire("sys-003")
		released.Release()

		reg.ConnectionLost()
		reg.Replay()

		if got := sender.subscribeCount("sys-001"); got != 2 { // initial + replay
			t.Errorf("sys-001 subscribed %d times, want 2", got)
		}
		if got := sender.subscribeCount("sys-002"); got != 2 {
			t.Errorf("sys-002 subscribed %d times, want 2", got)
		}
		if got := sender.subscribeCount("sys-003"); got != 1 { // initial only
			t.Errorf("sys-003 subscribed %d times, want 1 (released before replay)", got)
		}
	})

	t.Run("AlreadyAnnouncedNotResent", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		reg.Acquire("sys-001")
		reg.Replay() // No connection loss in between

		if got := sender.subscribeCount("sys-001"); got != 1 {
			t.Errorf("subscribe sent %d times, want 1 (already announced)", got)
		}
	})

	t.Run("PerSystemFailureRetriedNextCycle", func(t *testing.T) {
		sender := newFakeSender()
		reg := NewRegistry(sender)

		reg.Acquire("sys-001")
		reg.Acquire("sys-002")

		reg.ConnectionLost()
		sender.mu.Lock()
		sender.failFor["sys-001"] = true
		sender.mu.Unlock()

		reg.Replay()
		if got := sender.subscribeCount("sys-002"); got != 2 {
			t.Errorf("sys-002 subscribed %d times, want 2 (failure of sys-001 must not abort)", got)
		}

		// Next cycle: only the failed system is re-announced.
		sender.mu.Lock()
		sender.failFor["sys-001"] = false
		sender.mu.Unlock()
		reg.Replay()

		if got := sender.subscribeCount("sys-001"); got != 2 {
			t.Errorf("sys-001 subscribed %d times, want 2", got)
		}
		if got := sender.subscribeCount("sys-002"); got != 2 {
			t.Errorf("sys-002 subscribed %d times, want 2 (must not replay again)", got)
		}
	})
}

func TestRegistrySnapshot(t *testing.T) {
	sender := newFakeSender()
	reg := NewRegistry(sender)

	reg.Acquire("sys-002")
	reg.Acquire("sys-001")
	reg.Acquire("sys-001")

	got := reg.Snapshot()
	if len(got) != 2 || got[0] != "sys-001" || got[1] != "sys-002" {
		t.Errorf("Snapshot() = %v, want [sys-001 sys-002]", got)
	}
}

func TestUnsubscribeSkippedWhenNeverAnnounced(t *testing.T) {
	sender := newFakeSender()
	sender.setConnected(false)
	reg := NewRegistry(sender)

	tok := reg.Acquire("sys-001") // Deferred, never announced
	sender.setConnected(true)
	tok.Release()

	if got := sender.unsubscribeCount("sys-001"); got != 0 {
		t.Errorf("unsubscribe sent %d times for never-announced system, want 0", got)
	}
}
