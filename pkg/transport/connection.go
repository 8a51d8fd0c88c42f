package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a frame is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
}

// Close reasons surfaced to the peer so a disconnect is explicable without
// server logs.
var (
	ErrIdleTimeout     = errors.New("idle timeout")
	ErrPolicyViolation = errors.New("policy violation")
	ErrServerShutdown  = errors.New("server shutting down")
	ErrConnectionCycle = errors.New("connection cycled by newer connection")
)

// Conn is the surface the registry, router and presence tracker need from a
// live connection. *Connection implements it; tests substitute their own.
type Conn interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
	Done() <-chan struct{}
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	// Balanced by Close, which may run before the pumps ever start (for
	// connections rejected at registration time).
	wg.Add(1)

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps frames from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			if errors.Is(err, context.DeadlineExceeded) {
				readErr = ErrIdleTimeout
			} else {
				readErr = err
			}
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			c.logger.Warn("failed to read inbound frame", slog.Any("error", err))
			readErr = err
			return
		}
		// Inbound frames for one connection are handled sequentially in
		// arrival order; the handler returns before the next read starts.
		c.onMessage(c.ctx, c.id, message)
	}
}

// writePump pumps frames from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send enqueues a frame for the client. It is safe for concurrent use and
// never blocks past connection teardown.
func (c *Connection) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Debug("attempted to send on a closed connection")
	}
}

// Close gracefully shuts down the connection and its resources. The onClose
// handler runs to completion before Close returns, so registry cleanup is
// finished before any later presence snapshot is taken.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("transport connection closing", slog.Any("reason", err))

		// The send channel is never closed: fan-out goroutines may still be
		// calling Send for this connection while a peer tears it down, and a
		// send on a closed channel panics the process. The pumps exit
		// through ctx cancellation instead.
		c.cancel()
		c.conn.Close(closeStatus(err), closeReason(err))
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

func closeStatus(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, ErrPolicyViolation):
		return websocket.StatusPolicyViolation
	case errors.Is(err, ErrServerShutdown):
		return websocket.StatusGoingAway
	default:
		return websocket.StatusNormalClosure
	}
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Done returns a channel that is closed when the connection is fully
// terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
