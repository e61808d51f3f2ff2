package ingest

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/udisondev/framecap/internal/protocol"
)

// Client is the host side of the bridge: it forwards intercepted events to a Server.
// Safe for concurrent use; writes are serialized so each message stays contiguous.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to a bridge server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing ingest server %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(kind Kind, body ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteMessage(c.conn, kind, body...)
}

// Frame forwards a raw frame.
func (c *Client) Frame(ch protocol.Channel, dir protocol.Direction, frame []byte) error {
	return c.send(KindFrame, []byte{byte(ch), byte(dir)}, frame)
}

// Resolution forwards a deferred payload.
func (c *Client) Resolution(recipient uint32, payload []byte) error {
	return c.send(KindResolution, ResolutionBody(recipient, nil), payload)
}

// SkipNext asks the server to let the next resolution pass.
func (c *Client) SkipNext() error {
	return c.send(KindSkipNext)
}

// KeyProbe forwards live key state.
func (c *Client) KeyProbe(k KeyProbe) error {
	return c.send(KindKeyProbe, k.Encode())
}

// Disable stops the pipeline.
func (c *Client) Disable() error {
	return c.send(KindDisable)
}

// Enable resumes the pipeline.
func (c *Client) Enable() error {
	return c.send(KindEnable)
}
