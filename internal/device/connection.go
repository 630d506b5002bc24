package device

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport surface the registry needs from a websocket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connection wraps a device websocket with serialized writes and the
// liveness bookkeeping the heartbeat monitor reads.
type Connection struct {
	conn   Conn
	sendMu sync.Mutex

	mu           sync.Mutex
	deviceID     string
	remoteAddr   string
	lastSeen     time.Time
	lastPong     time.Time
	awaitingPong bool
	closed       bool
}

// NewConnection executes the newConnection function.
func NewConnection(conn Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:     conn,
		lastSeen: now,
		lastPong: now,
	}
}

// SetRemoteAddr records the peer address of the underlying socket.
func (c *Connection) SetRemoteAddr(addr string) {
	c.mu.Lock()
	c.remoteAddr = addr
	c.mu.Unlock()
}

// RemoteAddr returns the peer address, if one was recorded.
func (c *Connection) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// SendJSON marshals v and writes it as one text frame.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a transport-level ping frame.
func (c *Connection) Ping() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close executes the close method.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

// Closed executes the closed method.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Bind associates the connection with a registered device id.
func (c *Connection) Bind(deviceID string) {
	c.mu.Lock()
	c.deviceID = deviceID
	c.mu.Unlock()
}

// DeviceID returns the bound device id, empty before registration.
func (c *Connection) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Touch refreshes application-level liveness.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// MarkPong records a transport pong and clears the probe flag.
func (c *Connection) MarkPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.awaitingPong = false
	c.mu.Unlock()
}

func (c *Connection) liveness() (lastSeen time.Time, lastPong time.Time, awaitingPong bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.lastPong, c.awaitingPong
}

func (c *Connection) markProbed() {
	c.mu.Lock()
	c.awaitingPong = true
	c.mu.Unlock()
}
