package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolError describes an inbound message that could not be decoded.
// Receivers drop and log these; they are never fatal to the connection.
type ProtocolError struct {
	// Kind is the envelope type, if it could be determined.
	Kind Kind

	// Reason describes what was wrong with the message.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol error (%s): %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying decode error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Decode parses an inbound live-channel message.
// A malformed envelope, unknown kind, or invalid payload yields a
// *ProtocolError.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Reason: "missing type"}
	}

	msg := &Message{Type: env.Type}

	switch env.Type {
	case KindTelemetry:
		var p TelemetryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Kind: env.Type, Reason: "malformed payload", Err: err}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		msg.Telemetry = &p

	case KindAlert:
		var p AlertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Kind: env.Type, Reason: "malformed payload", Err: err}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		msg.Alert = &p

	case KindStatus:
		var p StatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &ProtocolError{Kind: env.Type, Reason: "malformed payload", Err: err}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		msg.Status = &p

	default:
		return nil, &ProtocolError{Kind: env.Type, Reason: "unknown message kind"}
	}

	return msg, nil
}

// encode wraps a payload in an envelope and marshals it.
func encode(kind Kind, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		raw = b
	}
	b, err := json.Marshal(Envelope{Type: kind, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", kind, err)
	}
	return b, nil
}

// EncodeSubscribeSystem builds the subscribe:system control command.
func EncodeSubscribeSystem(systemID string) ([]byte, error) {
	return encode(KindSubscribeSystem, SubscribePayload{SystemID: systemID})
}

// EncodeUnsubscribeSystem builds the unsubscribe:system control command.
func EncodeUnsubscribeSystem(systemID string) ([]byte, error) {
	return encode(KindUnsubscribeSystem, SubscribePayload{SystemID: systemID})
}

// EncodeSubscribeAlerts builds the subscribe:alerts control command.
func EncodeSubscribeAlerts() ([]byte, error) {
	return encode(KindSubscribeAlerts, nil)
}

// EncodeTelemetry builds a telemetry message. Servers and test
// harnesses use this; clients only decode telemetry.
func EncodeTelemetry(p *TelemetryPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return encode(KindTelemetry, p)
}

// EncodeAlert builds an alert message.
func EncodeAlert(a Alert) ([]byte, error) {
	p := AlertPayload{Alert: a}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return encode(KindAlert, p)
}

// EncodeStatus builds a system:status message.
func EncodeStatus(p *StatusPayload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return encode(KindStatus, p)
}
