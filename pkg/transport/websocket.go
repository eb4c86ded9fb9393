package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned by Send and Receive after Close.
var ErrConnectionClosed = errors.New("connection closed")

// DefaultHandshakeTimeout bounds the WebSocket upgrade.
const DefaultHandshakeTimeout = 15 * time.Second

// WebSocketDialerConfig configures the WebSocket dialer.
type WebSocketDialerConfig struct {
	// HandshakeTimeout bounds the upgrade handshake
	// (default: 15s).
	HandshakeTimeout time.Duration

	// Header carries extra HTTP headers for the handshake request.
	// The Authorization header is always set from the credential.
	Header http.Header

	// MaxMessageSize limits inbound message size in bytes
	// (default: no limit).
	MaxMessageSize int64
}

// WebSocketDialer dials the fleet server's live channel over WebSocket.
type WebSocketDialer struct {
	config WebSocketDialerConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given configuration.
func NewWebSocketDialer(config WebSocketDialerConfig) *WebSocketDialer {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Dial connects to url, presenting credential as a bearer token.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, credential string) (Transport, error) {
	header := http.Header{}
	for k, vs := range d.config.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if d.config.MaxMessageSize > 0 {
		conn.SetReadLimit(d.config.MaxMessageSize)
	}

	return &WSConn{
		conn:    conn,
		closeCh: make(chan struct{}),
	}, nil
}

// WSConn is a live channel over an established WebSocket connection.
type WSConn struct {
	conn    *websocket.Conn
	closeCh chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Send transmits one text message.
func (c *WSConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next message. Only one goroutine may call
// Receive at a time (the read loop owns it).
func (c *WSConn) Receive() ([]byte, error) {
	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

// Close tears the connection down. A best-effort close frame is sent
// so the server can distinguish a clean disconnect from a drop.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
