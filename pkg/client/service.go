package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/voltfleet/fleetlink-go/pkg/connection"
	"github.com/voltfleet/fleetlink-go/pkg/dispatch"
	"github.com/voltfleet/fleetlink-go/pkg/fleetapi"
	"github.com/voltfleet/fleetlink-go/pkg/log"
	"github.com/voltfleet/fleetlink-go/pkg/notify"
	"github.com/voltfleet/fleetlink-go/pkg/poller"
	"github.com/voltfleet/fleetlink-go/pkg/subscription"
	"github.com/voltfleet/fleetlink-go/pkg/telemetry"
	"github.com/voltfleet/fleetlink-go/pkg/transport"
	"github.com/voltfleet/fleetlink-go/pkg/wire"
)

// Service errors.
var (
	ErrNotConnected      = errors.New("not connected")
	ErrCredentialExpired = errors.New("credential expired")
	ErrClosed            = errors.New("service closed")
)

// Service is one assembled distribution client. Create with New; a
// process may run any number of independent instances.
type Service struct {
	config Config

	dialer  transport.Dialer
	fetcher poller.Fetcher
	api     *fleetapi.Client

	manager    *connection.Manager
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	store      *telemetry.Store
	poller     *poller.Poller
	alerts     *notify.Aggregator

	logger     log.Logger
	fileLogger *log.FileLogger

	mu         sync.Mutex
	conn       transport.Transport
	connID     string
	credential string
	closed     bool

	readWg sync.WaitGroup

	alertFeed *dispatch.Registration

	// now is replaced in tests for credential expiry checks.
	now func() time.Time
}

// New assembles a service from config. The service starts disconnected.
func New(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config: config,
		now:    time.Now,
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	if config.LogFile != "" {
		fl, err := log.NewFileLogger(config.LogFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.fileLogger = fl
		logger = log.NewMultiLogger(logger, fl)
	}
	s.logger = logger

	s.dialer = config.Dialer
	if s.dialer == nil {
		s.dialer = transport.NewWebSocketDialer(transport.WebSocketDialerConfig{
			HandshakeTimeout: time.Duration(config.HandshakeTimeout),
		})
	}

	s.fetcher = config.Fetcher
	if s.fetcher == nil && config.APIURL != "" {
		api, err := config.apiClient()
		if err != nil {
			return nil, err
		}
		s.api = api
		s.fetcher = api
	}

	s.store = telemetry.NewStore()
	s.dispatcher = dispatch.NewDispatcher()
	s.dispatcher.SetLogger(s.logger)

	s.registry = subscription.NewRegistry(s)
	s.registry.SetLogger(s.logger)

	if s.fetcher != nil {
		s.poller = poller.New(s.fetcher, s.store, s.dispatcher)
		s.poller.SetLogger(s.logger)
		s.poller.SetFetchTimeout(time.Duration(config.Poll.Timeout))
	}

	s.alerts = notify.NewAggregator(config.notifyConfig(), config.Notifier)
	s.alertFeed = s.dispatcher.OnAlert(func(alert wire.Alert) {
		s.alerts.Ingest(alert)
	})

	s.manager = connection.NewManagerWithBackoff(s.dial, config.backoffConfig())
	s.manager.OnConnected(s.handleConnected)
	s.manager.OnStateChange(func(oldState, newState connection.State) {
		s.log(log.Event{
			Layer:    log.LayerService,
			Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				OldState: oldState.String(),
				NewState: newState.String(),
			},
		})
	})
	s.manager.OnReconnecting(func(attempt int, delay time.Duration) {
		s.log(log.Event{
			Layer:    log.LayerService,
			Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				OldState: connection.StateReconnecting.String(),
				NewState: connection.StateReconnecting.String(),
				Attempt:  attempt,
				Reason:   fmt.Sprintf("next attempt in %s", delay),
			},
		})
	})

	return s, nil
}

// Connect establishes the live channel using the bearer credential.
// An already-expired credential is rejected without dialing; obtaining
// a fresh one is the caller's job, also when expiry hits mid-session.
func (s *Service) Connect(ctx context.Context, credential string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.credential = credential
	s.mu.Unlock()

	if err := checkCredential(credential, s.now()); err != nil {
		return err
	}
	if s.api != nil {
		s.api.SetToken(credential)
	}

	err := s.manager.Connect(ctx)
	if errors.Is(err, connection.ErrConnectAborted) {
		// Disconnect raced the dial; release the late transport.
		s.teardownConn()
	}
	return err
}

// checkCredential rejects JWTs whose exp claim has passed. Opaque
// (non-JWT) credentials pass through; the server is the authority.
func checkCredential(credential string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(now) {
		return ErrCredentialExpired
	}
	return nil
}

// dial is the connection manager's ConnectFunc: it owns the transport
// resource for one session.
func (s *Service) dial(ctx context.Context) error {
	s.mu.Lock()
	credential := s.credential
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.config.ServerURL, credential)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.connID = uuid.NewString()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	s.readWg.Add(1)
	go s.readLoop(conn)
	return nil
}

// handleConnected runs on every entry into Connected. Alert stream
// first, then the held system subscriptions.
func (s *Service) handleConnected() {
	if data, err := wire.EncodeSubscribeAlerts(); err == nil {
		if err := s.send(data); err == nil {
			s.log(log.Event{
				Direction: log.DirectionOut,
				Layer:     log.LayerService,
				Category:  log.CategoryControl,
				Control:   &log.ControlEvent{Command: string(wire.KindSubscribeAlerts)},
			})
		}
	}
	s.registry.Replay()
}

// readLoop consumes one transport until it fails or is replaced.
func (s *Service) readLoop(conn transport.Transport) {
	defer s.readWg.Done()

	for {
		data, err := conn.Receive()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
			}
			s.mu.Unlock()

			if !current {
				// Replaced or shut down deliberately.
				return
			}

			s.log(log.Event{
				Layer:    log.LayerTransport,
				Category: log.CategoryError,
				Error: &log.ErrorEvent{
					Layer:   log.LayerTransport,
					Message: err.Error(),
				},
			})
			s.registry.ConnectionLost()
			s.manager.NotifyConnectionLost()
			return
		}

		s.handleMessage(data)
	}
}

// handleMessage decodes and fans out one inbound message. Protocol
// errors drop the message and keep the channel alive.
func (s *Service) handleMessage(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.log(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryError,
			Error: &log.ErrorEvent{
				Layer:   log.LayerWire,
				Message: err.Error(),
			},
		})
		return
	}

	switch msg.Type {
	case wire.KindTelemetry:
		snap := telemetry.FromWire(msg.Telemetry)
		handlers := 0
		if s.store.Publish(snap) {
			handlers = s.dispatcher.DispatchTelemetry(snap)
		}
		s.log(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryMessage,
			SystemID:  snap.SystemID,
			Message: &log.MessageEvent{
				Kind:             string(msg.Type),
				MeasurementCount: len(snap.Measurements),
				HandlerCount:     handlers,
			},
		})

	case wire.KindAlert:
		alert := msg.Alert.Alert
		handlers := s.dispatcher.DispatchAlert(alert)
		s.log(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryMessage,
			SystemID:  alert.SystemID,
			Message: &log.MessageEvent{
				Kind:         string(msg.Type),
				AlertID:      alert.ID,
				Severity:     string(alert.Severity),
				HandlerCount: handlers,
			},
		})

	case wire.KindStatus:
		handlers := s.dispatcher.DispatchStatus(msg.Status.SystemID, msg.Status.Status)
		s.log(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryMessage,
			SystemID:  msg.Status.SystemID,
			Message: &log.MessageEvent{
				Kind:         string(msg.Type),
				Status:       msg.Status.Status,
				HandlerCount: handlers,
			},
		})
	}
}

// send transmits raw bytes over the current transport.
func (s *Service) send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(data)
}

// Subscribe implements subscription.Sender.
func (s *Service) Subscribe(systemID string) error {
	data, err := wire.EncodeSubscribeSystem(systemID)
	if err != nil {
		return err
	}
	return s.send(data)
}

// Unsubscribe implements subscription.Sender.
func (s *Service) Unsubscribe(systemID string) error {
	data, err := wire.EncodeUnsubscribeSystem(systemID)
	if err != nil {
		return err
	}
	return s.send(data)
}

// teardownConn closes and forgets the current transport and waits for
// its read loop to drain.
func (s *Service) teardownConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.readWg.Wait()
}

// Disconnect tears the live channel down and cancels pending
// reconnection. Watches stay registered; polling keeps running.
func (s *Service) Disconnect() {
	s.manager.Disconnect()
	s.teardownConn()
	s.registry.ConnectionLost()
}

// Close disconnects and releases everything. The service cannot be
// reused afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Disconnect()
	if s.poller != nil {
		s.poller.Close()
	}
	s.alertFeed.Cancel()
	if s.fileLogger != nil {
		return s.fileLogger.Close()
	}
	return nil
}

// State returns the live channel state.
func (s *Service) State() connection.State {
	return s.manager.State()
}

// Latest returns the last known snapshot for systemID, from push or
// poll, or nil.
func (s *Service) Latest(systemID string) *telemetry.Snapshot {
	return s.store.Latest(systemID)
}

// Notifications returns the alert notification aggregator.
func (s *Service) Notifications() *notify.Aggregator {
	return s.alerts
}

// API returns the REST client, or nil when a custom Fetcher was
// injected or no APIURL is configured.
func (s *Service) API() *fleetapi.Client {
	return s.api
}

// WatchedSystems returns the systems currently held by at least one
// watch.
func (s *Service) WatchedSystems() []string {
	return s.registry.Snapshot()
}

func (s *Service) log(ev log.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.Lock()
	ev.ConnectionID = s.connID
	s.mu.Unlock()
	s.logger.Log(ev)
}
