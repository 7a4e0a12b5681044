package transport

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quadcall/signaling/internal/v1/logging"
	"github.com/quadcall/signaling/internal/v1/metrics"
	"github.com/quadcall/signaling/internal/v1/ratelimit"
	"github.com/quadcall/signaling/internal/v1/types"
)

// wsConnection defines the WebSocket operations the transport needs, so tests
// can substitute a scripted connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
}

// writeWait bounds how long a single frame write may block before the
// connection is considered dead.
const writeWait = 10 * time.Second

// Client is a single member connection. It implements types.ClientInterface.
//
// Two goroutines own the socket: readPump is the only reader, writePump the
// only writer. Everything else talks to the client through the bounded send
// and control channels, so no caller ever blocks on a peer's socket.
type Client struct {
	conn    wsConnection
	hub     *Hub
	id      types.ClientIdType
	room    types.RoomCodeType
	subject string

	// window meters inbound relay frames. Owned by readPump.
	window *ratelimit.Window

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string

	// send carries relay frames and peer events in enqueue order; control
	// carries self-addressed error envelopes, which have no ordering
	// constraint and are drained first.
	send    chan []byte
	control chan []byte
}

func newClient(hub *Hub, conn wsConnection, code types.RoomCodeType, id types.ClientIdType, subject string) *Client {
	return &Client{
		conn:    conn,
		hub:     hub,
		id:      id,
		room:    code,
		subject: subject,
		window:  ratelimit.NewWindow(hub.cfg.RateLimitMsgs, hub.cfg.RateLimitWindow),
		send:    make(chan []byte, hub.cfg.SendQueueSize),
		control: make(chan []byte, controlQueueSize),
	}
}

// controlQueueSize bounds the error envelope queue. Errors are rare compared
// to relay traffic, so a small buffer suffices.
const controlQueueSize = 32

func (c *Client) GetID() types.ClientIdType { return c.id }
func (c *Client) GetSubject() string        { return c.subject }

// Enqueue offers a frame to the member's ordered outbound queue without
// blocking. False means the queue overflowed; the caller decides the slow
// consumer's fate. A frame offered to an already-closed client is silently
// dropped and reported as delivered.
func (c *Client) Enqueue(frame []byte) (delivered bool) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	defer func() {
		// Disconnect can close the channel between the flag check and the
		// send. Losing a frame to a closing connection is fine, but it must
		// not read as a slow-consumer verdict.
		if recover() != nil {
			delivered = true
		}
	}()

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// EnqueueControl offers a self-addressed error envelope to the control queue.
// Best effort: a full queue drops the envelope rather than blocking the hub.
func (c *Client) EnqueueControl(frame []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		_ = recover()
	}()

	select {
	case c.control <- frame:
	default:
		logging.Warn(context.Background(), "Control queue full, dropping error envelope",
			zap.String("clientId", string(c.id)))
	}
}

// CloseWithStatus records the close code to put on the wire, then tears the
// connection down. Idempotent; the first caller's code wins.
func (c *Client) CloseWithStatus(code int, reason string) {
	c.mu.Lock()
	if !c.closed && c.closeCode == 0 {
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.Disconnect()
}

// Disconnect tears the connection down. Closing the channels makes writePump
// drain what is queued, send the close frame, and close the socket, which in
// turn unblocks readPump. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	close(c.control)
}

// readPump is the connection's only reader. It meters inbound frames through
// the sliding window and hands admitted ones to the registry for fan-out.
// When it returns the member is removed from its room and peer_left is
// announced.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	ctx := context.WithValue(context.Background(), logging.ClientIDKey, string(c.id))
	ctx = context.WithValue(ctx, logging.RoomCodeKey, string(c.room))

	c.conn.SetReadLimit(c.hub.cfg.MaxFrameBytes)

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if !c.window.Allow(time.Now()) {
			metrics.RateLimitDenials.WithLabelValues("frame").Inc()
			logging.Warn(ctx, "Frame rate limit exceeded, dropping frame")
			c.EnqueueControl(types.NewError(types.ErrCodeRateLimited,
				"Message rate limit exceeded; frame dropped.", string(c.id)).MustEncode())
			continue
		}

		c.hub.registry.Broadcast(ctx, c.room, c.id, frame)
	}
}

// writePump is the connection's only writer. Error envelopes are drained
// before the ordered queue so a flood of peer traffic cannot starve them;
// relay frames and peer events share the ordered queue, so enqueue order is
// delivery order. When both channels are closed it emits the close frame
// recorded by CloseWithStatus (or a bare close) and returns.
func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		var frame []byte
		var ok bool
		select {
		case frame, ok = <-c.control:
		default:
			select {
			case frame, ok = <-c.control:
			case frame, ok = <-c.send:
			}
		}
		if !ok {
			c.writeClose()
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(frameType(frame), frame); err != nil {
			logging.Warn(context.Background(), "Write failed, dropping connection",
				zap.String("clientId", string(c.id)), zap.Error(err))
			return
		}
	}
}

// frameType picks the wire frame type. Server envelopes and peer JSON relay
// as text; a peer frame that is not valid UTF-8 must go out as binary to
// stay byte-identical.
func frameType(frame []byte) int {
	if utf8.Valid(frame) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

func (c *Client) writeClose() {
	c.mu.RLock()
	code, reason := c.closeCode, c.closeReason
	c.mu.RUnlock()

	payload := []byte{}
	if code != 0 {
		payload = websocket.FormatCloseMessage(code, reason)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, payload)
}
