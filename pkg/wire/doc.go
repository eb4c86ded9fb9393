// Package wire defines the live-channel message model for FleetLink.
//
// All messages travel as JSON envelopes:
//
//	{"type": "<kind>", "payload": {...}}
//
// Inbound kinds (server to client):
//   - telemetry: a measurement snapshot for one system
//   - alert: an alert event, fleet-wide (not gated by subscriptions)
//   - system:status: an operational status change for one system
//
// Outbound kinds (client to server):
//   - subscribe:system / unsubscribe:system: per-system event gating
//   - subscribe:alerts: opt into the fleet-wide alert stream
//
// The server keeps no subscription state across connections, so every
// outbound subscription must be re-sent after a reconnect.
//
// Decoding is strict about the envelope and lenient about payload extras:
// unknown envelope kinds and malformed payloads produce a *ProtocolError
// which callers drop and log, never propagate.
package wire
