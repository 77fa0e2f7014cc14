package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-msgpack/codec"
)

var connHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}()

const sweepInterval = 100 * time.Millisecond

// pendingEntry is one outstanding request awaiting a correlated response.
type pendingEntry struct {
	replyCh chan []byte
	errCh   chan error
	deadline time.Time
}

// Connection is a single persistent duplex link to one conductor worker.
// It owns exactly one writer goroutine and one reader goroutine over the
// underlying websocket, and multiplexes many concurrent Request callers
// over that single physical socket using a monotonic correlation id.
//
// Requests handed to Connection are wrapped in the connection's own outer
// envelope {id, kind: "request", data: payload} before being written; the
// payload itself is opaque to Connection and is whatever admin-protocol
// frame the caller constructed.
type Connection struct {
	endpoint string
	conn     *websocket.Conn

	nextID uint64

	mu      sync.Mutex
	pending map[uint64]*pendingEntry
	closed  bool

	writeCh chan writeJob
	done    chan struct{}

	log *slog.Logger
}

type writeJob struct {
	payload []byte
	errCh   chan error
}

// Connect dials endpoint and starts the connection's reader, writer, and
// sweeper goroutines. The returned Connection is ready for concurrent use.
func Connect(ctx context.Context, endpoint string, log *slog.Logger) (*Connection, error) {
	if log == nil {
		log = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Connection{
		endpoint: endpoint,
		conn:     conn,
		pending:  make(map[uint64]*pendingEntry),
		writeCh:  make(chan writeJob, 64),
		done:     make(chan struct{}),
		log:      log.With("endpoint", endpoint),
	}

	go c.readLoop()
	go c.writeLoop()
	go c.sweepLoop()

	return c, nil
}

// IsConnected reports whether the underlying socket is still believed to
// be live. Once false it never becomes true again; callers must create a
// new Connection to reconnect.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Request wraps payload in this connection's outer request envelope,
// assigns it a fresh correlation id, writes it, and blocks until either a
// correlated response arrives, timeout elapses, or the connection closes.
func (c *Connection) Request(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	id := atomic.AddUint64(&c.nextID, 1)

	envelope := map[string]interface{}{
		"id":   id,
		"kind": "request",
		"data": payload,
	}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, connHandle)
	if err := enc.Encode(envelope); err != nil {
		return nil, fmt.Errorf("encode outer envelope: %w", err)
	}

	entry := &pendingEntry{
		replyCh:  make(chan []byte, 1),
		errCh:    make(chan error, 1),
		deadline: time.Now().Add(timeout),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[id] = entry
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	writeErr := make(chan error, 1)
	select {
	case c.writeCh <- writeJob{payload: buf, errCh: writeErr}:
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-writeErr:
		if err != nil {
			return nil, err
		}
	case <-c.done:
		return nil, ErrDisconnected
	}

	select {
	case data := <-entry.replyCh:
		return data, nil
	case err := <-entry.errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case job := <-c.writeCh:
			err := c.conn.WriteMessage(websocket.BinaryMessage, job.payload)
			job.errCh <- err
			if err != nil {
				c.teardown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}

		var frame map[string]interface{}
		dec := codec.NewDecoderBytes(data, connHandle)
		if err := dec.Decode(&frame); err != nil {
			c.log.Warn("conductor: discarding malformed frame", "err", err)
			continue
		}

		id, ok := frameID(frame)
		if !ok {
			c.log.Warn("conductor: frame missing correlation id")
			continue
		}

		payload, _ := frame["data"].([]byte)

		c.mu.Lock()
		entry, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if !ok {
			continue
		}
		entry.replyCh <- payload
	}
}

func (c *Connection) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, entry := range c.pending {
				if now.After(entry.deadline) {
					delete(c.pending, id)
					entry.errCh <- ErrTimeout
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*pendingEntry)
	c.mu.Unlock()

	for _, entry := range pending {
		entry.errCh <- ErrDisconnected
	}
	close(c.done)
	c.conn.Close()

	if cause != nil {
		c.log.Warn("conductor: connection torn down", "err", cause)
	}
}

// Close gracefully shuts the connection down, failing every outstanding
// request with ErrDisconnected.
func (c *Connection) Close() error {
	c.teardown(nil)
	return nil
}

func frameID(frame map[string]interface{}) (uint64, bool) {
	switch v := frame["id"].(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	case int:
		return uint64(v), true
	case float64:
		return uint64(v), true
	default:
		return 0, false
	}
}
