// Package connection owns the per-socket state the signaling hub tracks for
// each peer: serialized writes, the bound identity, and the relay
// authentication bit. A Connection never owns the hub's directory or relay
// graph — it only carries the index (its Identity string) those structures
// use to find it.
package connection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BigSmart114514/p2p/internal/wire"
)

// ErrWriteFailed is returned by Send when the underlying socket write fails.
var ErrWriteFailed = errors.New("connection: write failed")

// outboxDepth bounds how many frames may be queued for a slow writer before
// Send starts dropping the newest frame rather than blocking its caller.
// A blocked caller would be the hub's single state-decision goroutine for
// some other connection's frame, which §5 forbids.
const outboxDepth = 256

// Connection represents one signaling socket.
type Connection struct {
	// TraceID is a random identifier used only for log correlation. It is
	// never sent on the wire and is distinct from the protocol Identity,
	// which is owned by the peer directory.
	TraceID string

	log *slog.Logger
	ws  *websocket.Conn

	identity atomic.Value // string; unset until registration
	authed   atomic.Bool

	outbox chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	onClosed  func(*Connection)
}

// New wraps ws and starts its serialized writer goroutine. onClosed, if
// non-nil, is invoked exactly once, after the socket has been closed and
// the writer told to stop; it does not wait for the writer to exit.
func New(ws *websocket.Conn, log *slog.Logger, onClosed func(*Connection)) *Connection {
	if log == nil {
		log = slog.Default()
	}
	c := &Connection{
		TraceID:  uuid.NewString(),
		log:      log,
		ws:       ws,
		outbox:   make(chan []byte, outboxDepth),
		closed:   make(chan struct{}),
		onClosed: onClosed,
	}
	c.identity.Store("")
	go c.writeLoop()
	return c
}

// Identity returns the bound identity and whether one has been assigned yet.
func (c *Connection) Identity() (string, bool) {
	id, _ := c.identity.Load().(string)
	return id, id != ""
}

// BindIdentity sets the connection's identity exactly once. It reports false
// if the connection already has an identity (callers must treat this as the
// "ignore subsequent Register frames" idempotency rule, not an error).
func (c *Connection) BindIdentity(id string) bool {
	return c.identity.CompareAndSwap("", id)
}

// RelayAuthenticated reports the current value of the relay authentication
// bit. It starts false and can transition to true exactly once.
func (c *Connection) RelayAuthenticated() bool {
	return c.authed.Load()
}

// MarkRelayAuthenticated flips the relay authentication bit to true. It is
// idempotent and never resets the bit back to false.
func (c *Connection) MarkRelayAuthenticated() {
	c.authed.Store(true)
}

// Send best-effort delivers env to the peer without blocking. A full outbox
// (a stalled peer) drops the frame with a warning log; a closed connection
// drops it without logging. Both return ErrWriteFailed, which the hub's
// callers discard: a single slow or dead peer must never stall the hub's
// dispatch of other frames.
func (c *Connection) Send(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		c.log.Error("failed to encode outbound envelope", "trace_id", c.TraceID, "err", err)
		return err
	}

	select {
	case <-c.closed:
		return ErrWriteFailed
	default:
	}

	select {
	case c.outbox <- data:
		return nil
	case <-c.closed:
		return ErrWriteFailed
	default:
		c.log.Warn("dropping outbound frame: connection outbox full", "trace_id", c.TraceID, "type", env.Type)
		return ErrWriteFailed
	}
}

// Recv blocks for the next decoded envelope. It returns an error once the
// underlying socket is closed or a read fails; callers should treat any
// error other than wire.ErrMalformedFrame as end-of-sequence and stop
// calling Recv.
//
// A malformed frame does not terminate the sequence: Recv returns the frame
// decoded to wire.TagError (see wire.Decode) rather than failing, except
// when the outer JSON cannot be parsed at all, in which case it returns
// wire.ErrMalformedFrame and the caller is expected to continue reading.
func (c *Connection) Recv() (wire.Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.Decode(data)
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.outbox:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("connection write failed", "trace_id", c.TraceID, "err", err)
				go c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close closes the underlying socket and runs the onClosed callback exactly
// once. It is safe to call multiple times and from multiple goroutines.
//
// The outbox channel is deliberately never closed: Send may race with
// Close, and a send on a closed channel panics.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
		if c.onClosed != nil {
			c.onClosed(c)
		}
	})
}
