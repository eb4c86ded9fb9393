package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the message type carried by an envelope.
type Kind string

// Inbound message kinds.
const (
	KindTelemetry Kind = "telemetry"
	KindAlert     Kind = "alert"
	KindStatus    Kind = "system:status"
)

// Outbound control kinds.
const (
	KindSubscribeSystem   Kind = "subscribe:system"
	KindUnsubscribeSystem Kind = "unsubscribe:system"
	KindSubscribeAlerts   Kind = "subscribe:alerts"
)

// Envelope is the outer JSON frame for every live-channel message.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Severity classifies an alert. The wire representation is the
// lowercase name.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Level returns a numeric rank for threshold comparisons.
// Higher is more severe; unknown severities rank below low.
func (s Severity) Level() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// String returns the wire name of the severity.
func (s Severity) String() string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// Millis is a timestamp carried as epoch milliseconds on the wire.
type Millis int64

// Time converts the wire timestamp to a time.Time in UTC.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// MillisOf converts a time.Time to a wire timestamp.
func MillisOf(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// TelemetryPayload is the payload of a telemetry message.
type TelemetryPayload struct {
	SystemID     string             `json:"systemId"`
	Timestamp    Millis             `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
	Flags        []string           `json:"flags,omitempty"`
}

// Validate checks the payload's required fields.
func (p *TelemetryPayload) Validate() error {
	if p.SystemID == "" {
		return &ProtocolError{Kind: KindTelemetry, Reason: "missing systemId"}
	}
	if p.Timestamp <= 0 {
		return &ProtocolError{Kind: KindTelemetry, Reason: "missing timestamp"}
	}
	return nil
}

// Alert is one alert event. Identity is the ID: the same alert may
// arrive more than once (push plus reconciliation poll) and must be
// treated as one logical event.
type Alert struct {
	ID        string   `json:"id"`
	SystemID  string   `json:"systemId,omitempty"`
	Severity  Severity `json:"severity"`
	Category  string   `json:"category,omitempty"`
	Title     string   `json:"title"`
	Message   string   `json:"message,omitempty"`
	CreatedAt Millis   `json:"createdAt"`
}

// AlertPayload is the payload of an alert message.
type AlertPayload struct {
	Alert Alert `json:"alert"`
}

// Validate checks the payload's required fields.
func (p *AlertPayload) Validate() error {
	if p.Alert.ID == "" {
		return &ProtocolError{Kind: KindAlert, Reason: "missing alert id"}
	}
	if !p.Alert.Severity.Valid() {
		return &ProtocolError{Kind: KindAlert, Reason: fmt.Sprintf("unknown severity %q", p.Alert.Severity)}
	}
	return nil
}

// StatusPayload is the payload of a system:status message.
type StatusPayload struct {
	SystemID string `json:"systemId"`
	Status   string `json:"status"`
}

// Validate checks the payload's required fields.
func (p *StatusPayload) Validate() error {
	if p.SystemID == "" {
		return &ProtocolError{Kind: KindStatus, Reason: "missing systemId"}
	}
	if p.Status == "" {
		return &ProtocolError{Kind: KindStatus, Reason: "missing status"}
	}
	return nil
}

// SubscribePayload is the payload of the per-system control commands.
type SubscribePayload struct {
	SystemID string `json:"systemId"`
}

// Message is a decoded inbound message. Exactly one payload field is
// non-nil, matching Type.
type Message struct {
	Type      Kind
	Telemetry *TelemetryPayload
	Alert     *AlertPayload
	Status    *StatusPayload
}

// SystemID returns the entity the message concerns, or "" for
// fleet-wide alerts.
func (m *Message) SystemID() string {
	switch m.Type {
	case KindTelemetry:
		return m.Telemetry.SystemID
	case KindStatus:
		return m.Status.SystemID
	case KindAlert:
		return m.Alert.Alert.SystemID
	}
	return ""
}
