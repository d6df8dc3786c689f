// Package client implements the FDI client role: a connection to one FDI
// server with a configurable operation timeout and an optional periodic
// heartbeat. One request is in flight per connection at a time; any error
// that leaves the stream alignment unknown closes the connection.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"taglink/fdi"
	"taglink/logging"
)

// Defaults applied by New.
const (
	DefaultTimeout           = 5 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second
)

// Option is a functional option for New.
type Option func(*Client)

// WithPort sets the server TCP port (default 5000).
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithTimeout sets the connect and per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithoutHeartbeat disables the periodic NoOp probe.
func WithoutHeartbeat() Option {
	return func(c *Client) { c.heartbeat = false }
}

// WithHeartbeatInterval sets the period between NoOp probes.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

// Client is an FDI client endpoint.
type Client struct {
	host              string
	port              int
	timeout           time.Duration
	heartbeat         bool
	heartbeatInterval time.Duration

	// mu serializes operations: a handler owns the socket for the full
	// duration of its exchange.
	mu            sync.Mutex
	conn          net.Conn
	connected     bool
	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// New creates a client for the given host. The client starts
// disconnected; call Connect.
func New(host string, opts ...Option) *Client {
	c := &Client{
		host:              host,
		port:              fdi.DefaultPort,
		timeout:           DefaultTimeout,
		heartbeat:         true,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the host:port the client connects to.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))
}

// Connect dials the server. Connecting an already connected client is a
// no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	addr := c.Addr()
	logging.DebugConnect("client", addr)
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	c.conn = conn
	c.connected = true

	if c.heartbeat {
		c.stopHeartbeat = make(chan struct{})
		c.wg.Add(1)
		go c.heartbeatLoop(c.stopHeartbeat)
	}
	return nil
}

// Disconnect closes the connection and stops the heartbeat. Disconnecting
// an already disconnected client is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closeLocked("disconnect requested")
	c.mu.Unlock()
	c.wg.Wait()
}

// IsConnected reports whether the client currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// closeLocked tears the connection down. Must be called with c.mu held.
func (c *Client) closeLocked(reason string) {
	if !c.connected {
		return
	}
	logging.DebugDisconnect("client", c.Addr(), reason)
	c.conn.Close()
	c.conn = nil
	c.connected = false
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}

// heartbeatLoop sends a NoOp every heartbeat interval while connected.
// A failed probe leaves the client disconnected.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.NoOp(); err != nil {
				logging.DebugError("client", "heartbeat", err)
				c.mu.Lock()
				c.closeLocked("heartbeat failed")
				c.mu.Unlock()
				return
			}
		}
	}
}

// sendLocked writes one frame with the operation deadline applied.
// Transport failures close the connection.
func (c *Client) sendLocked(frame []byte) error {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	logging.DebugTX("client", frame)
	if err := fdi.WriteFrame(c.conn, frame); err != nil {
		c.closeLocked("send failed")
		return c.mapNetErr(err)
	}
	return nil
}

// recvLocked reads one frame with the operation deadline applied.
// Transport failures close the connection: after a timeout or a short
// read the stream alignment is unknown.
func (c *Client) recvLocked() ([]byte, error) {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	frame, err := fdi.ReadFrame(c.conn)
	if err != nil {
		c.closeLocked("receive failed")
		return nil, c.mapNetErr(err)
	}
	logging.DebugRX("client", frame)
	return frame, nil
}

// mapNetErr maps deadline expiry onto ErrTimeout, preserving the raw
// error for everything else.
func (c *Client) mapNetErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", fdi.ErrTimeout, err)
	}
	return err
}

// exchangeLocked sends a request frame and returns the decoded response.
// A response that cannot be decoded closes the connection.
func (c *Client) exchangeLocked(cmd fdi.Command, tagID uint16, payload []byte) (fdi.Status, uint16, []byte, error) {
	req, err := fdi.EncodeRequest(cmd, tagID, payload)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := c.sendLocked(req); err != nil {
		return 0, 0, nil, err
	}
	resp, err := c.recvLocked()
	if err != nil {
		return 0, 0, nil, err
	}
	status, respID, respPayload, err := fdi.DecodeResponse(resp)
	if err != nil {
		c.closeLocked("undecodable response")
		return 0, 0, nil, err
	}
	return status, respID, respPayload, nil
}
