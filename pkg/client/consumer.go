package client

import (
	"sync"
	"time"

	"github.com/voltfleet/fleetlink-go/pkg/dispatch"
	"github.com/voltfleet/fleetlink-go/pkg/subscription"
)

// Consumer bundles everything one registration call set up: the
// dispatch registration, the subscription reference, and the poll
// fallback. Close tears all of it down; a closed consumer's handler
// will not be invoked again.
type Consumer struct {
	closeOnce sync.Once

	registration *dispatch.Registration
	token        *subscription.Token
	stopPoll     func()
}

// Close releases the consumer. Synchronous and idempotent: when it
// returns, the handler is guaranteed not to run anymore.
func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.registration.Cancel()
		if c.token != nil {
			c.token.Release()
		}
		if c.stopPoll != nil {
			c.stopPoll()
		}
	})
}

// Watch delivers telemetry snapshots for one system to handler. It
// acquires a server subscription (shared with other watchers of the
// same system) and, when the poll fallback is enabled, keeps the
// system polled.
func (s *Service) Watch(systemID string, handler dispatch.TelemetryHandler) (*Consumer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	c := &Consumer{
		registration: s.dispatcher.OnTelemetry(systemID, handler),
		token:        s.registry.Acquire(systemID),
	}
	if s.poller != nil && s.config.Poll.Enabled {
		c.stopPoll = s.poller.Start(systemID, time.Duration(s.config.Poll.Interval))
	}
	return c, nil
}

// WatchAll delivers telemetry for every system any watcher has made
// flow. It takes no subscription of its own.
func (s *Service) WatchAll(handler dispatch.TelemetryHandler) (*Consumer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	return &Consumer{registration: s.dispatcher.OnAnyTelemetry(handler)}, nil
}

// OnStatus delivers online/offline transitions for one system.
func (s *Service) OnStatus(systemID string, handler dispatch.StatusHandler) (*Consumer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	return &Consumer{
		registration: s.dispatcher.OnStatus(systemID, handler),
		token:        s.registry.Acquire(systemID),
	}, nil
}

// OnAnyStatus delivers status transitions for all flowing systems.
func (s *Service) OnAnyStatus(handler dispatch.StatusHandler) (*Consumer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	return &Consumer{registration: s.dispatcher.OnAnyStatus(handler)}, nil
}

// OnAlert delivers every alert. Alerts are fleet-wide and not gated by
// system subscriptions.
func (s *Service) OnAlert(handler dispatch.AlertHandler) (*Consumer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	return &Consumer{registration: s.dispatcher.OnAlert(handler)}, nil
}

var _ subscription.Sender = (*Service)(nil)
