// ABOUTME: Websocket connection wrapper with buffered read/write pumps
// ABOUTME: Owns the socket lifecycle; the registry only sees the Sink interface

package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// sendBufferSize is the per-connection outbound buffer. A peer that falls
// this far behind starts losing events rather than blocking broadcasts.
const sendBufferSize = 256

// MessageHandler is invoked for each inbound message on a connection.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler is invoked once when the connection has fully shut down.
type OnCloseHandler func(connID uuid.UUID, err error)

// ConnConfig carries per-connection transport settings.
type ConnConfig struct {
	// ReadTimeout bounds how long the relay waits between inbound frames.
	// Zero means no read deadline.
	ReadTimeout time.Duration
}

// Conn wraps one websocket session. Messages handed to TrySend are queued
// on a buffered channel and written by a dedicated goroutine, so a slow
// peer never blocks the caller.
type Conn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	config ConnConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	mu     sync.RWMutex
	userID string
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

// NewConn wraps an accepted websocket connection. The pumps do not start
// until Run is called.
func NewConn(parent context.Context, ws *websocket.Conn, config ConnConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Conn {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = slog.Default()
	}

	return &Conn{
		id:        id,
		ws:        ws,
		config:    config,
		send:      make(chan []byte, sendBufferSize),
		onMessage: onMessage,
		onClose:   onClose,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger.With("conn_id", id.String()),
	}
}

// ID returns the connection's opaque handle.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// SetUserID records the identity announced by a join_user event.
func (c *Conn) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// UserID returns the announced identity, or "" before join_user.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Run starts the read and write pumps.
func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()
	c.logger.Debug("connection pumps started")
}

// Done is closed when the connection has fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// TrySend queues data for delivery. Returns false when the connection is
// closed or the peer's buffer is full; it never blocks.
func (c *Conn) TrySend(data []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	// Hold the read lock during the send attempt so Close cannot close the
	// channel underneath us.
	select {
	case c.send <- data:
		c.mu.RUnlock()
		return true
	default:
		c.mu.RUnlock()
		return false
	}
}

// Close tears the connection down exactly once and fires the close handler.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		close(c.send)
		c.ws.Close(websocket.StatusNormalClosure, "")
		c.logger.Debug("connection closed", "reason", err)

		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		close(c.done)
	})
}

// readPump feeds inbound frames to the message handler until the socket
// errors or the connection context is cancelled.
func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx := c.ctx
		var cancelRead context.CancelFunc
		if c.config.ReadTimeout > 0 {
			readCtx, cancelRead = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		}

		typ, data, err := c.ws.Read(readCtx)
		if cancelRead != nil {
			cancelRead()
		}
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, data)
		}
	}
}

// writePump drains the send channel onto the socket.
func (c *Conn) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
