// Package server runs the terminal and admin TCP listeners.
package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agmm7834/MyNetBoot-v2/internal/protocol"
)

// Conn is a framed connection. Sends are serialized so that frames from
// concurrent senders never interleave.
type Conn struct {
	conn         net.Conn
	id           string
	writeTimeout time.Duration
	limiter      *rate.Limiter

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps c. A zero writeTimeout disables write deadlines; a
// non-positive msgRate disables inbound rate limiting.
func NewConn(c net.Conn, writeTimeout time.Duration, msgRate float64, burst int) *Conn {
	limit := rate.Inf
	if msgRate > 0 {
		limit = rate.Limit(msgRate)
	}
	return &Conn{
		conn:         c,
		writeTimeout: writeTimeout,
		limiter:      rate.NewLimiter(limit, max(burst, 1)),
	}
}

// ID returns the terminal id, or "admin" for the admin channel. It is empty
// until the handshake completes.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send writes one frame.
func (c *Conn) Send(env *protocol.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteEnvelope(c.conn, env)
}

// Receive reads one frame, failing if nothing arrives within timeout.
// A zero timeout waits indefinitely.
func (c *Conn) Receive(timeout time.Duration) (*protocol.Envelope, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return protocol.ReadEnvelope(c.conn)
}

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
