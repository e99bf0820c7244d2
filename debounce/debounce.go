// Package debounce turns the noisy per-window classifier output into the
// stable label shown to the user.  A candidate label only replaces the
// committed one after it has been the sole candidate for a full quiet period.
package debounce

import (
	"time"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/clock"
	"github.com/swdee/go-posturecoach/session"
)

// DefaultDuration is the quiet period a candidate must survive
const DefaultDuration = 600 * time.Millisecond

// Change is the label-changed event
type Change struct {
	From classify.Label
	To   classify.Label
	// Seq is the window sequence of the classification that started the
	// winning candidate
	Seq uint64
	At  time.Time
}

// Phase of the stabilizer state machine
type Phase int

const (
	// Unset means no label has been committed yet
	Unset Phase = iota
	// Pending means a candidate is waiting out the quiet period
	Pending
	// Committed means a stable label is held with no candidate pending
	Committed
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case Unset:
		return "unset"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	default:
		return "unknown"
	}
}

type candidate struct {
	label classify.Label
	seq   uint64
	since time.Time
	timer clock.Timer
}

// Stabilizer is the debounce state machine.  It is not safe for concurrent
// use: Observe, SetActivity and Reset must be called from one goroutine and
// the dispatch func must run timer callbacks on that same goroutine.
type Stabilizer struct {
	d        time.Duration
	clk      clock.Clock
	dispatch func(func())
	handler  func(Change)

	activity  session.State
	committed classify.Label
	hasLabel  bool
	pending   *candidate
	// gen is bumped whenever the pending candidate is replaced or cancelled so
	// a timer callback already queued on dispatch knows it lost
	gen uint64

	commits    uint64
	suppressed uint64
}

// New returns a Stabilizer with quiet period d.  Timer callbacks are passed
// to dispatch, which must hand them to the goroutine owning the Stabilizer.
// A nil dispatch runs the callback directly, which is only correct with a
// clock whose timers fire on the owning goroutine such as clock.Manual.
func New(d time.Duration, clk clock.Clock, dispatch func(func())) *Stabilizer {

	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}

	return &Stabilizer{
		d:        d,
		clk:      clk,
		dispatch: dispatch,
	}
}

// OnLabelChanged sets the handler receiving label-changed events
func (s *Stabilizer) OnLabelChanged(h func(Change)) {
	s.handler = h
}

// Observe feeds one classification result.  Results without a known argmax
// are ignored and the current label is retained.
func (s *Stabilizer) Observe(res classify.Result) {
	s.ObserveLabel(res.Argmax(), res.Seq)
}

// ObserveLabel feeds one candidate label
func (s *Stabilizer) ObserveLabel(label classify.Label, seq uint64) {

	if !label.Known() {
		return
	}

	// same candidate again, the quiet period keeps running from its first
	// arrival
	if s.pending != nil && s.pending.label == label {
		return
	}

	s.cancelPending()

	if s.hasLabel && label == s.committed {
		return
	}

	s.gen++
	gen := s.gen

	c := &candidate{
		label: label,
		seq:   seq,
		since: s.clk.Now(),
	}

	c.timer = s.clk.AfterFunc(s.d, func() {
		s.dispatch(func() { s.commit(gen) })
	})

	s.pending = c
}

// commit promotes the pending candidate if it is still the one the timer was
// started for
func (s *Stabilizer) commit(gen uint64) {

	if gen != s.gen || s.pending == nil {
		return
	}

	c := s.pending
	s.pending = nil

	ev := Change{
		From: s.committed,
		To:   c.label,
		Seq:  c.seq,
		At:   s.clk.Now(),
	}

	s.committed = c.label
	s.hasLabel = true
	s.commits++

	if s.activity != session.Active {
		s.suppressed++
		return
	}

	if s.handler != nil {
		s.handler(ev)
	}
}

func (s *Stabilizer) cancelPending() {

	if s.pending == nil {
		return
	}

	s.pending.timer.Stop()
	s.pending = nil
	s.gen++
}

// SetActivity records the session state.  Label changes committed while the
// state is not Active update Current but emit no event.
func (s *Stabilizer) SetActivity(state session.State) {
	s.activity = state
}

// Activity returns the recorded session state
func (s *Stabilizer) Activity() session.State {
	return s.activity
}

// Current returns the committed label, Unknown until the first commit
func (s *Stabilizer) Current() classify.Label {
	if !s.hasLabel {
		return classify.Unknown
	}
	return s.committed
}

// Phase returns the state machine phase
func (s *Stabilizer) Phase() Phase {
	switch {
	case s.pending != nil:
		return Pending
	case s.hasLabel:
		return Committed
	default:
		return Unset
	}
}

// Candidate returns the pending candidate label and when it first arrived
func (s *Stabilizer) Candidate() (classify.Label, time.Time, bool) {
	if s.pending == nil {
		return classify.Unknown, time.Time{}, false
	}
	return s.pending.label, s.pending.since, true
}

// Reset cancels any pending candidate and forgets the committed label
func (s *Stabilizer) Reset() {
	s.cancelPending()
	s.committed = classify.Unknown
	s.hasLabel = false
}

// Stats is a snapshot of stabilizer counters
type Stats struct {
	// Commits is the number of label changes committed
	Commits uint64
	// Suppressed is the number of commits that emitted no event because the
	// session was not Active
	Suppressed uint64
}

// Stats returns the current counters
func (s *Stabilizer) Stats() Stats {
	return Stats{
		Commits:    s.commits,
		Suppressed: s.suppressed,
	}
}
