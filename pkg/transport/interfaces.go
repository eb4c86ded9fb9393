package transport

import (
	"context"
)

// Transport represents an established live channel to the fleet server.
type Transport interface {
	// Send transmits one message. Safe for concurrent use.
	Send(data []byte) error

	// Receive blocks until the next message arrives or the channel
	// fails. A returned error means the channel is unusable; callers
	// treat it as connection loss.
	Receive() ([]byte, error)

	// Close tears the channel down. Safe to call multiple times.
	Close() error
}

// Dialer establishes live channels.
type Dialer interface {
	// Dial connects to the server at url, presenting the bearer
	// credential. The context bounds the handshake only.
	Dial(ctx context.Context, url string, credential string) (Transport, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*WSConn)(nil)
	_ Dialer    = (*WebSocketDialer)(nil)
)
