package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla WebSocket connection behind a single writer
// goroutine so concurrent broadcasts never race on the underlying socket.
// It implements room.Conn.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	writeWait time.Duration
	readWait  time.Duration
}

// NewConnection wraps an upgraded WebSocket connection and starts its
// writer goroutine. bufferSize is the outbound queue depth; writeWait
// bounds each socket write and each queue insert; readWait is the idle
// deadline, extended by inbound frames and pong replies.
func NewConnection(conn *websocket.Conn, bufferSize int, writeWait, readWait time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}
	if readWait <= 0 {
		readWait = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		writeCh:   make(chan []byte, bufferSize),
		ctx:       ctx,
		cancel:    cancel,
		writeWait: writeWait,
		readWait:  readWait,
	}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	go c.writeLoop()
	return c
}

// writeLoop is the single goroutine allowed to write data frames.
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeWait):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ReadMessage blocks on the next inbound text frame. Reads are only ever
// issued from the connection's handler goroutine, which gives each
// connection strictly sequential message processing.
func (c *Connection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Inbound traffic proves liveness as well as pongs do.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Ping sends a control ping; safe to call concurrently with data writes.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeWait))
}

// CloseWithCode sends a close frame carrying an application close code and
// reason, then tears the connection down. Control frames may be written
// concurrently with data frames, so this does not go through the writer
// goroutine.
func (c *Connection) CloseWithCode(code int, reason string) error {
	deadline := time.Now().Add(c.writeWait)
	// Give the writer goroutine a chance to flush queued frames so the
	// close frame is the last thing the peer sees.
	for len(c.writeCh) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	msg := websocket.FormatCloseMessage(code, reason)
	// Best effort: the peer may already be gone.
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.Close()
}

// Close shuts the connection down exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done exposes the connection's lifetime for goroutines bound to it, such
// as the keep-alive prober.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
