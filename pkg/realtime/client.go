package realtime

import (
	"sync"

	"markethub/pkg/protocol"

	"github.com/gorilla/websocket"
)

// Client represents one connected websocket session
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan *protocol.Message
	mu     sync.RWMutex
	userID string
	closed bool
}

// NewClient wraps a websocket connection with a buffered send channel
func NewClient(id string, conn *websocket.Conn, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan *protocol.Message, sendBuffer),
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying websocket connection
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// UserID returns the associated user, empty until authenticated
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Send queues a message for delivery without blocking. The read lock is held
// across the channel send so Close cannot close the channel underneath it; the
// send itself never blocks, so the lock is held only briefly.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Outbox returns the channel drained by the write pump
func (c *Client) Outbox() <-chan *protocol.Message {
	return c.send
}

// Close closes the send channel and the connection. Safe to call twice.
// The channel is closed while holding the write lock, so no Send can be
// between its closed check and its channel send when the close happens.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsClosed checks if the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
