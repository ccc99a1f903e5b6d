package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned when the connection is closed before or during an exchange.
	ErrClosed = errors.New("websocket: connection closed")
	// ErrResponseTimeout is returned when no reply arrives within the response bound.
	ErrResponseTimeout = errors.New("websocket: response timeout")
)

// State is the lifecycle state of a room connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Metrics captures per-connection traffic.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Unsolicited        int64 // replies that arrived with no handler installed
}

// Config configures the room dialer.
type Config struct {
	ServerURL        string // ws://host:port, the room path is appended
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	// Propagate, when set, may add headers (e.g. trace context) to each handshake.
	Propagate func(ctx context.Context, headers http.Header)
	// OnClose is invoked once per connection when it transitions to closed.
	OnClose func(roomID int)
}

// Dialer opens room connections.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewDialer creates a Dialer with the given configuration.
func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024 // 1MB default
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")

	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// RoomURL returns the endpoint of a room.
func (d *Dialer) RoomURL(roomID int) string {
	return d.cfg.ServerURL + "/chat/" + strconv.Itoa(roomID)
}

// Dial opens a connection to a room, waiting at most the handshake timeout.
func (d *Dialer) Dial(ctx context.Context, roomID int) (*Conn, error) {
	headers := d.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if d.cfg.Propagate != nil {
		d.cfg.Propagate(ctx, headers)
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := d.dialer.DialContext(dialCtx, d.RoomURL(roomID), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial room %d failed with status %d: %w", roomID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial room %d failed: %w", roomID, err)
	}
	ws.SetReadLimit(d.cfg.MaxMessageSize)

	c := newConn(roomID, ws, d.cfg.WriteTimeout, d.cfg.OnClose)
	go c.readLoop()
	return c, nil
}

// Receipt is a reply delivered by the read loop.
type Receipt struct {
	Data       []byte
	ReceivedAt time.Time
}

// ResponseHandler consumes a reply. It runs on the connection's read goroutine.
type ResponseHandler func(Receipt)

// Reply is the outcome of a completed exchange.
type Reply struct {
	Data       []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// Latency is the round-trip time of the exchange.
func (r Reply) Latency() time.Duration {
	return r.ReceivedAt.Sub(r.SentAt)
}

// Conn is a persistent connection to one room. It has a single response
// handler slot, so at most one request may be outstanding at a time; Exchange
// enforces that.
type Conn struct {
	roomID       int
	ws           *websocket.Conn
	writeTimeout time.Duration
	onClose      func(roomID int)

	state    atomic.Int32
	handler  atomic.Pointer[ResponseHandler]
	inflight chan struct{}
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	connectTime  time.Time
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	unsolicited  atomic.Int64
}

func newConn(roomID int, ws *websocket.Conn, writeTimeout time.Duration, onClose func(int)) *Conn {
	c := &Conn{
		roomID:       roomID,
		ws:           ws,
		writeTimeout: writeTimeout,
		onClose:      onClose,
		inflight:     make(chan struct{}, 1),
		done:         make(chan struct{}),
		connectTime:  time.Now(),
	}
	c.state.Store(int32(StateOpen))
	return c
}

// RoomID returns the room this connection is bound to.
func (c *Conn) RoomID() int { return c.roomID }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// IsOpen reports whether the connection can carry a request.
func (c *Conn) IsOpen() bool { return c.State() == StateOpen }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SetResponseHandler installs h in the response slot, replacing any previous
// handler. A nil h clears the slot.
func (c *Conn) SetResponseHandler(h ResponseHandler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

// Send writes one text frame.
func (c *Conn) Send(payload []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(len(payload)))
	return nil
}

// Exchange sends payload and waits up to timeout for the reply. Calls on the
// same connection are serialized. A failed or timed out exchange closes the
// connection so a late reply is never attributed to a later request.
func (c *Conn) Exchange(ctx context.Context, payload []byte, timeout time.Duration) (Reply, error) {
	select {
	case c.inflight <- struct{}{}:
	case <-c.done:
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	defer func() { <-c.inflight }()

	if !c.IsOpen() {
		return Reply{}, ErrClosed
	}

	replies := make(chan Receipt, 1)
	c.SetResponseHandler(func(r Receipt) {
		select {
		case replies <- r:
		default:
		}
	})
	defer c.SetResponseHandler(nil)

	sentAt := time.Now()
	if err := c.Send(payload); err != nil {
		c.Close()
		return Reply{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		return Reply{Data: r.Data, SentAt: sentAt, ReceivedAt: r.ReceivedAt}, nil
	case <-timer.C:
		c.Close()
		return Reply{}, ErrResponseTimeout
	case <-c.done:
		// The reply may have raced the close.
		select {
		case r := <-replies:
			return Reply{Data: r.Data, SentAt: sentAt, ReceivedAt: r.ReceivedAt}, nil
		default:
		}
		return Reply{}, ErrClosed
	case <-ctx.Done():
		c.Close()
		return Reply{}, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(false)
			return
		}
		receivedAt := time.Now()
		c.messagesRecv.Add(1)
		c.bytesRecv.Add(int64(len(data)))

		if h := c.handler.Load(); h != nil {
			(*h)(Receipt{Data: data, ReceivedAt: receivedAt})
		} else {
			c.unsolicited.Add(1)
		}
	}
}

// Close closes the connection gracefully. It is safe to call repeatedly.
func (c *Conn) Close() error {
	c.shutdown(true)
	return c.closeErr
}

func (c *Conn) shutdown(sendCloseFrame bool) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if sendCloseFrame {
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
		}
		c.closeErr = c.ws.Close()
		close(c.done)
		if c.onClose != nil {
			c.onClose(c.roomID)
		}
	})
}

// Metrics returns the current traffic snapshot.
func (c *Conn) Metrics() Metrics {
	return Metrics{
		ConnectionDuration: time.Since(c.connectTime),
		MessagesSent:       c.messagesSent.Load(),
		MessagesReceived:   c.messagesRecv.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesRecv.Load(),
		Unsolicited:        c.unsolicited.Load(),
	}
}
