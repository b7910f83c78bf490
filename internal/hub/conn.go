package hub

import (
	"log"
	"sync"

	"slate/collab/internal/gate"
	"slate/collab/internal/presence"
)

const sendBuffer = 64

// Conn is one participant's server-side connection handle. The Grant is
// immutable for the connection's lifetime; every write path consults it.
type Conn struct {
	ID      string
	Doc     string
	Grant   gate.Grant
	Tracker *presence.Tracker

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(doc string, grant gate.Grant) *Conn {
	return &Conn{
		ID:      presence.NewConnID(),
		Doc:     doc,
		Grant:   grant,
		Tracker: presence.NewTracker(),
		send:    make(chan Frame, sendBuffer),
		done:    make(chan struct{}),
	}
}

// Frames is the outbound stream the transport writer drains.
func (c *Conn) Frames() <-chan Frame {
	return c.send
}

// Done is closed when the connection is condemned; the transport must tear
// it down so the client reconnects and resyncs from a fresh init.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) condemn() {
	c.closeOnce.Do(func() { close(c.done) })
}

// stateBearing reports whether losing the frame would desynchronize the
// client's replica. Presence and error frames are advisory and survivable.
func stateBearing(t FrameType) bool {
	return t == FrameInit || t == FrameOp || t == FrameCanvas
}

// push never blocks the apply loop. A consumer too slow to drain its buffer
// may lose advisory frames; losing a state frame would silently diverge the
// replica, so the connection is condemned instead and resyncs on reconnect.
func (c *Conn) push(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	default:
		if stateBearing(f.Type) {
			log.Printf("hub: closing slow connection %s on %s, %s frame lost", c.ID, c.Doc, f.Type)
			c.condemn()
			return
		}
		log.Printf("hub: dropping %s frame for slow connection %s on %s", f.Type, c.ID, c.Doc)
	}
}

// displayName picks the best participant label available from the perimeter
// headers.
func (c *Conn) displayName() string {
	if c.Grant.UserName != "" {
		return c.Grant.UserName
	}
	if c.Grant.UserID != "" {
		return c.Grant.UserID
	}
	return "anonymous"
}
