package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/nyxsignal"
)

var (
	ErrConnectionClosed = errors.New(nyxsignal.ErrConnectionClosed)
	ErrSendQueueFull    = errors.New(nyxsignal.ErrSendQueueFull)
)

// Client implements nyxsignal.Client and relay.Conn on top of a gorilla
// connection. Reads happen on the server's goroutine; writes are serialized
// by writePump.
type Client struct {
	id           string
	conn         *websocket.Conn
	remoteAddr   string
	ctx          context.Context
	cancel       context.CancelFunc
	sendCh       chan []byte
	writeTimeout time.Duration
	mu           sync.RWMutex
	closed       bool
}

// NewClient wraps conn and starts its write pump. queueSize bounds the number
// of frames waiting to be written; writeTimeout bounds every single write.
func NewClient(conn *websocket.Conn, remoteAddr string, queueSize int, writeTimeout time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if queueSize <= 0 {
		queueSize = nyxsignal.DefaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = nyxsignal.DefaultWriteTimeout
	}

	client := &Client{
		id:           uuid.New().String(),
		conn:         conn,
		remoteAddr:   remoteAddr,
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
	}

	go client.writePump()

	return client
}

// ID returns a unique identifier for the connected client
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the client's remote network address
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the client's lifecycle context
func (c *Client) Context() context.Context {
	return c.ctx
}

// Send queues a text frame. It never blocks: a full queue or a closed
// connection is reported as an error and the frame is discarded.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}

	// The read lock is held while queueing to prevent a race with close(sendCh)
	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Ping writes a ping control frame. No lock is held during the write, so a
// ping stuck behind a stalled peer never blocks Send or Terminate.
func (c *Client) Ping() error {
	if !c.IsAlive() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close closes the client connection
func (c *Client) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode marks the client closed, then sends a close frame with code
// and reason and closes the connection.
func (c *Client) CloseWithCode(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.markClosedLocked()
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)

	return c.conn.Close()
}

// Terminate closes the underlying connection without a close handshake.
func (c *Client) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.markClosedLocked()
	return c.conn.Close()
}

// IsAlive returns true if the connection is still active
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Client) markClosedLocked() {
	c.closed = true
	c.cancel()
	close(c.sendCh)
}

// writePump pumps messages from the send channel to the websocket connection.
// The connection is closed by Close and Terminate; the pump only closes it
// when a write fails, which unblocks the server's read loop.
func (c *Client) writePump() {
	for {
		select {
		case message, ok := <-c.sendCh:
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = c.conn.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
