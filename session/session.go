// Package session controls the coaching session life cycle.  A session
// moves Idle to Starting when the user starts it, to Active once the start
// delay has elapsed, and back to Idle when stopped.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/swdee/go-posturecoach/clock"
)

// State is the session activity state
type State int

const (
	// Idle means no analysis is taking place
	Idle State = iota
	// Starting is the countdown before feedback is enabled
	Starting
	// Active means feedback is enabled
	Active
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultStartDelay is the countdown between Start and Active
const DefaultStartDelay = 3 * time.Second

// Event is emitted on every state transition
type Event struct {
	From State
	To   State
	// ID identifies the session the transition belongs to
	ID string
	At time.Time
}

// Controller owns the session state.  Start and Stop may be called from any
// goroutine, transitions are delivered to the handler through dispatch.
type Controller struct {
	clk        clock.Clock
	startDelay time.Duration
	dispatch   func(func())

	mu      sync.Mutex
	state   State
	id      string
	started time.Time
	timer   clock.Timer
	// gen invalidates a start timer that fires after Stop or a restart
	gen     uint64
	handler func(Event)
}

// New returns an Idle controller.  Timer transitions are handed to dispatch
// so they run on the caller's event loop, a nil dispatch runs them on the
// timer's goroutine.
func New(clk clock.Clock, startDelay time.Duration, dispatch func(func())) *Controller {

	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}

	return &Controller{
		clk:        clk,
		startDelay: startDelay,
		dispatch:   dispatch,
	}
}

// OnStateChanged sets the handler receiving transition events
func (c *Controller) OnStateChanged(h func(Event)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start begins a new session.  It returns the session id, starting an
// already running session is a no-op returning the current id.
func (c *Controller) Start() string {

	c.mu.Lock()

	if c.state != Idle {
		id := c.id
		c.mu.Unlock()
		return id
	}

	c.gen++
	gen := c.gen
	c.id = uuid.NewString()
	ev := c.transition(Starting)

	if c.startDelay <= 0 {
		ev2 := c.transition(Active)
		c.mu.Unlock()
		c.emit(ev, ev2)
		return ev.ID
	}

	c.timer = c.clk.AfterFunc(c.startDelay, func() {
		c.dispatch(func() { c.activate(gen) })
	})

	c.mu.Unlock()
	c.emit(ev)

	return ev.ID
}

// activate completes the countdown unless the session changed meanwhile
func (c *Controller) activate(gen uint64) {

	c.mu.Lock()

	if gen != c.gen || c.state != Starting {
		c.mu.Unlock()
		return
	}

	c.timer = nil
	ev := c.transition(Active)
	c.mu.Unlock()

	c.emit(ev)
}

// Stop ends the session and cancels a pending countdown
func (c *Controller) Stop() {

	c.mu.Lock()

	if c.state == Idle {
		c.mu.Unlock()
		return
	}

	c.gen++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	ev := c.transition(Idle)
	c.id = ""
	c.mu.Unlock()

	c.emit(ev)
}

// transition moves to state, c.mu must be held
func (c *Controller) transition(to State) Event {

	now := c.clk.Now()

	ev := Event{
		From: c.state,
		To:   to,
		ID:   c.id,
		At:   now,
	}

	c.state = to

	if to == Active {
		c.started = now
	} else {
		c.started = time.Time{}
	}

	return ev
}

func (c *Controller) emit(events ...Event) {

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	if h == nil {
		return
	}

	for _, ev := range events {
		h(ev)
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the id of the running session or "" when Idle
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Elapsed returns the stopwatch time since the session became Active,
// truncated to a tenth of a second.  It is zero unless Active.
func (c *Controller) Elapsed() time.Duration {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return 0
	}

	return c.clk.Now().Sub(c.started).Truncate(100 * time.Millisecond)
}

// FormatElapsed renders a stopwatch duration as MM:SS.d
func FormatElapsed(d time.Duration) string {

	if d < 0 {
		d = 0
	}

	tenths := int64(d / (100 * time.Millisecond))
	minutes := tenths / 600
	seconds := (tenths / 10) % 60

	return fmt.Sprintf("%02d:%02d.%d", minutes, seconds, tenths%10)
}
