// Package pool keeps one persistent room connection per (worker, room).
//
// A RoomPool is owned by exactly one worker goroutine and is not safe for
// concurrent use; connection maps are never shared between workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/torosent/roomfire/internal/websocket"
)

// ErrNoConnection is returned when a room connection could not be opened.
var ErrNoConnection = errors.New("pool: no connection available")

// Connection is the subset of a room connection the pool and workers use.
type Connection interface {
	RoomID() int
	IsOpen() bool
	Exchange(ctx context.Context, payload []byte, timeout time.Duration) (websocket.Reply, error)
	Close() error
}

// Opener dials a new connection to a room.
type Opener interface {
	Open(ctx context.Context, roomID int) (Connection, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, roomID int) (Connection, error)

func (f OpenerFunc) Open(ctx context.Context, roomID int) (Connection, error) {
	return f(ctx, roomID)
}

// DialerOpener opens connections through a websocket.Dialer.
func DialerOpener(d *websocket.Dialer) Opener {
	return OpenerFunc(func(ctx context.Context, roomID int) (Connection, error) {
		conn, err := d.Dial(ctx, roomID)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Events receives connection lifecycle notifications.
type Events interface {
	ConnectionCreated(roomID int)
	Reconnected(roomID int)
	ConnectionReused(roomID int)
}

type nopEvents struct{}

func (nopEvents) ConnectionCreated(int) {}
func (nopEvents) Reconnected(int)       {}
func (nopEvents) ConnectionReused(int)  {}

// RoomPool maps room ids to the worker's open connection for that room.
type RoomPool struct {
	opener         Opener
	events         Events
	connectTimeout time.Duration
	conns          map[int]Connection
}

// New creates an empty pool. A zero connectTimeout leaves the bound to the opener.
func New(opener Opener, events Events, connectTimeout time.Duration) *RoomPool {
	if events == nil {
		events = nopEvents{}
	}
	return &RoomPool{
		opener:         opener,
		events:         events,
		connectTimeout: connectTimeout,
		conns:          make(map[int]Connection),
	}
}

// GetOrCreate returns the open connection for roomID, dialing a new one when
// none is mapped or the mapped one has closed.
func (p *RoomPool) GetOrCreate(ctx context.Context, roomID int) (Connection, error) {
	if conn, ok := p.conns[roomID]; ok {
		if conn.IsOpen() {
			p.events.ConnectionReused(roomID)
			return conn, nil
		}
		delete(p.conns, roomID)
		_ = conn.Close()
		p.events.Reconnected(roomID)
	}

	dialCtx := ctx
	if p.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.connectTimeout)
		defer cancel()
	}

	conn, err := p.opener.Open(dialCtx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: room %d: %w", ErrNoConnection, roomID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: room %d", ErrNoConnection, roomID)
	}
	p.conns[roomID] = conn
	p.events.ConnectionCreated(roomID)
	return conn, nil
}

// Len returns the number of mapped connections, open or not.
func (p *RoomPool) Len() int { return len(p.conns) }

// Close closes every connection in the pool.
func (p *RoomPool) Close() error {
	var errs []string
	for roomID, conn := range p.conns {
		if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrClosed) {
			errs = append(errs, fmt.Sprintf("room %d: %v", roomID, err))
		}
		delete(p.conns, roomID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
