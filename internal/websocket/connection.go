package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomcast/pkg/interfaces"
)

// Connection wraps one socket. Every write goes through a single writer
// goroutine; Send only enqueues. A pending connection has no socket yet and
// holds sends in its buffer until attach starts the writer.
type Connection struct {
	id           string
	userID       string
	mu           sync.Mutex
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection starts the writer for conn
func NewConnection(id, userID string, conn *websocket.Conn, buffer int, writeTimeout time.Duration) *Connection {
	c := newPendingConnection(id, buffer, writeTimeout)
	c.attach(conn, userID, nil)
	return c
}

func newPendingConnection(id string, buffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:           id,
		writeCh:      make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// attach binds the upgraded socket and starts the writer. first, if set, is
// written before anything queued while the connection was pending.
func (c *Connection) attach(conn *websocket.Conn, userID string, first []byte) {
	c.mu.Lock()
	c.conn = conn
	c.userID = userID
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		_ = conn.Close()
		return
	}
	go c.writeLoop(first)
}

func (c *Connection) writeLoop(first []byte) {
	if first != nil && !c.write(first) {
		return
	}
	for {
		select {
		case data := <-c.writeCh:
			if !c.write(data) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		_ = c.Close()
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = c.Close()
		return false
	}
	return true
}

// Send queues payload for the writer. It fails with ErrConnectionClosed once
// the socket is closed and with a transport error when ctx expires first.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("%w: %s", interfaces.ErrConnectionClosed, c.id)
	default:
	}

	select {
	case c.writeCh <- payload:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("%w: %s", interfaces.ErrConnectionClosed, c.id)
	case <-ctx.Done():
		return fmt.Errorf("%w: send buffer of %s full: %w", interfaces.ErrTransport, c.id, ctx.Err())
	}
}

// WriteJSON encodes v and queues it, bounded by the write timeout
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode frame: %w", interfaces.ErrTransport, err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return c.Send(ctx, data)
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// ID returns the connection id assigned when the request arrived
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated owner of the connection, empty while pending
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Done is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }
