// Package admission gates camera frames into the pose extraction pipeline.
// At most one frame is in flight, frames arriving while busy are dropped and
// never queued.
package admission

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by TryAdmit when a frame is already in flight
var ErrBusy = errors.New("frame already in flight")

// ErrClosed is returned by TryAdmit once the controller is closed
var ErrClosed = errors.New("admission closed")

// Controller holds the busy flag
type Controller struct {
	busy   atomic.Bool
	closed atomic.Bool
	// generation is bumped on Close so tickets issued before can be told
	// apart from those issued after a later Open
	generation atomic.Uint64

	admitted  atomic.Uint64
	rejected  atomic.Uint64
	released  atomic.Uint64
	lastAdmit atomic.Int64
}

// New returns an open Controller
func New() *Controller {
	return &Controller{}
}

// Ticket is the right to process one frame.  It must be released when the
// downstream work finishes, whether it succeeded or failed.
type Ticket struct {
	c          *Controller
	generation uint64
	once       sync.Once
}

// TryAdmit returns a ticket when no frame is in flight.  Otherwise the caller
// must drop the frame.
func (c *Controller) TryAdmit() (*Ticket, error) {

	if c.closed.Load() {
		c.rejected.Add(1)
		return nil, ErrClosed
	}

	if !c.busy.CompareAndSwap(false, true) {
		c.rejected.Add(1)
		return nil, ErrBusy
	}

	c.admitted.Add(1)
	c.lastAdmit.Store(time.Now().UnixNano())

	return &Ticket{
		c:          c,
		generation: c.generation.Load(),
	}, nil
}

// Release clears the busy flag.  Calling it more than once is a no-op.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.c.released.Add(1)
		t.c.busy.Store(false)
	})
}

// Current reports if the ticket was issued in the controller's current open
// period.  Results from tickets issued before a Close should be ignored.
func (t *Ticket) Current() bool {
	return !t.c.closed.Load() && t.c.generation.Load() == t.generation
}

// Close stops new tickets being issued.  Outstanding tickets can still be
// released but report not Current.
func (c *Controller) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.generation.Add(1)
	}
}

// Open allows tickets to be issued again after Close
func (c *Controller) Open() {
	c.closed.Store(false)
}

// Busy reports if a frame is in flight
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Stats is a snapshot of admission counters
type Stats struct {
	// Admitted is the number of tickets issued
	Admitted uint64
	// Rejected is the number of frames dropped because the controller was
	// busy or closed
	Rejected uint64
	// Released is the number of tickets released
	Released uint64
	// LastAdmitAt is the time the last ticket was issued
	LastAdmitAt time.Time
}

// Stats returns the current counters
func (c *Controller) Stats() Stats {

	s := Stats{
		Admitted: c.admitted.Load(),
		Rejected: c.rejected.Load(),
		Released: c.released.Load(),
	}

	if ns := c.lastAdmit.Load(); ns != 0 {
		s.LastAdmitAt = time.Unix(0, ns)
	}

	return s
}
