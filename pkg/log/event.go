package log

import (
	"time"
)

// Event represents a distribution-layer log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID correlates events belonging to one live-channel
	// session (UUID, new for every Connect).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// SystemID is the monitored system the event concerns, if any.
	SystemID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"7,keyasint,omitempty"`  // Decoded wire messages
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"`  // Connection state
	Control     *ControlEvent     `cbor:"9,keyasint,omitempty"`  // Subscription control
	Poll        *PollEvent        `cbor:"10,keyasint,omitempty"` // Fallback poll results
	Error       *ErrorEvent       `cbor:"11,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an inbound message or local event.
	DirectionIn Direction = 0
	// DirectionOut indicates an outbound message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the live-channel transport (socket lifecycle).
	LayerTransport Layer = 0
	// LayerWire is the message codec layer.
	LayerWire Layer = 1
	// LayerService is the distribution/service layer.
	LayerService Layer = 2
	// LayerPoll is the request/response fallback path.
	LayerPoll Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	case LayerPoll:
		return "POLL"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a telemetry/alert/status message.
	CategoryMessage Category = 0
	// CategoryControl indicates a subscription control command.
	CategoryControl Category = 1
	// CategoryState indicates a connection state change.
	CategoryState Category = 2
	// CategoryPoll indicates a fallback poll result.
	CategoryPoll Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryPoll:
		return "POLL"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a decoded wire message.
type MessageEvent struct {
	// Kind is the wire message kind (telemetry, alert, system:status).
	Kind string `cbor:"1,keyasint"`

	// AlertID is set for alert messages.
	AlertID string `cbor:"2,keyasint,omitempty"`

	// Severity is set for alert messages.
	Severity string `cbor:"3,keyasint,omitempty"`

	// MeasurementCount is set for telemetry messages.
	MeasurementCount int `cbor:"4,keyasint,omitempty"`

	// Status is set for system:status messages.
	Status string `cbor:"5,keyasint,omitempty"`

	// HandlerCount is how many handlers received the message.
	HandlerCount int `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures a connection state transition.
type StateChangeEvent struct {
	// OldState is the state before the transition.
	OldState string `cbor:"1,keyasint"`

	// NewState is the state after the transition.
	NewState string `cbor:"2,keyasint"`

	// Attempt is the reconnection attempt number, when reconnecting.
	Attempt int `cbor:"3,keyasint,omitempty"`

	// Reason describes why the transition occurred.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ControlEvent captures a subscription control command.
type ControlEvent struct {
	// Command is the control kind (subscribe:system etc.).
	Command string `cbor:"1,keyasint"`

	// Deferred is true when the command was queued for replay because
	// the channel was not connected.
	Deferred bool `cbor:"2,keyasint,omitempty"`

	// Replay is true when the command was sent as part of
	// post-reconnect subscription replay.
	Replay bool `cbor:"3,keyasint,omitempty"`
}

// PollEvent captures one fallback poll result.
type PollEvent struct {
	// Published is true when the fetched snapshot was newer than the
	// last known one and was published to consumers.
	Published bool `cbor:"1,keyasint"`

	// SnapshotTimestamp is the fetched snapshot's timestamp (epoch ms).
	SnapshotTimestamp int64 `cbor:"2,keyasint,omitempty"`

	// Skipped is true when the tick was skipped because a request was
	// still in flight.
	Skipped bool `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent captures an error at any layer.
type ErrorEvent struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error description.
	Message string `cbor:"2,keyasint"`

	// Context provides additional context (e.g. "replay", "poll").
	Context string `cbor:"3,keyasint,omitempty"`
}
