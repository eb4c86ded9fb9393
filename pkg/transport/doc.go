// Package transport provides the live-channel transport for FleetLink.
//
// The transport layer handles:
//   - WebSocket connections to the fleet server
//   - Bearer-credential presentation at dial time
//   - Message send/receive with single-writer discipline
//   - Idempotent teardown
//
// The rest of the library depends only on the Transport and Dialer
// interfaces, so tests substitute in-memory fakes and alternative
// transports can be added without touching the distribution layer.
//
// Authentication is scoped to the dial: the credential travels in the
// Authorization header of the WebSocket handshake. Credential refresh is
// the caller's concern; an expired credential means disconnect and dial
// again.
package transport
