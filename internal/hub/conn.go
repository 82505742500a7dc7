// internal/hub/conn.go
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Conn is one observer's presence on a lobby stream. Frames pushed by the hub
// are buffered on Out and drained by the transport's write pump; the hub
// never blocks on a slow observer.
type Conn struct {
	// PlayerID identifies the observing player. May be uuid.Nil for a
	// spectator that authenticated to the lobby without a seat.
	PlayerID uuid.UUID

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// defaultConnBuffer bounds how many undelivered frames an observer may lag
// behind before frames are dropped.
const defaultConnBuffer = 16

// NewConn builds a connected Conn for the given player.
func NewConn(playerID uuid.UUID) *Conn {
	c := &Conn{
		PlayerID: playerID,
		out:      make(chan []byte, defaultConnBuffer),
		done:     make(chan struct{}),
	}
	c.connected.Store(true)
	return c
}

// Out is the frame stream the transport write pump drains.
func (c *Conn) Out() <-chan []byte { return c.out }

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// IsConnected reports whether the observer is still considered live.
func (c *Conn) IsConnected() bool { return c.connected.Load() }

// Close marks the connection dead and releases its write pump. Safe to call
// from any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
	})
}

// enqueue pushes a frame without blocking. Returns false when the frame was
// dropped because the buffer is full; delivery is best-effort, at most once,
// with no retry.
func (c *Conn) enqueue(frame []byte) bool {
	if !c.IsConnected() {
		return false
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}
