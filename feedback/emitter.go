// Package feedback turns stable posture labels into speech and a user
// visible status.
package feedback

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/swdee/go-posturecoach/classify"
)

// Speaker speaks text aloud.  Speak blocks until the utterance completes and
// must return promptly once ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// StatusSink receives every status change, for example a remote display
type StatusSink interface {
	Publish(ctx context.Context, s Status) error
}

// Options configures an Emitter
type Options struct {
	// PublishTimeout bounds a single StatusSink publish, defaults to 2s
	PublishTimeout time.Duration
	// Logger receives speech and publish failures, nil uses log.Default()
	Logger *log.Logger
}

// utterance is a speech request in flight
type utterance struct {
	text   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Emitter speaks label changes with replace semantics, a new label cancels
// the utterance in progress.  Calls are expected from one goroutine but
// Status may be read from any.
type Emitter struct {
	speaker Speaker
	sink    StatusSink
	opts    Options
	log     *log.Logger

	mu         sync.Mutex
	lastSpoken classify.Label
	current    *utterance
	status     Status
	session    string

	spoken    uint64
	cancelled uint64
}

// NewEmitter returns an Emitter.  Either speaker or sink may be nil.
func NewEmitter(speaker Speaker, sink StatusSink, opts Options) *Emitter {

	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}

	logger := opts.Logger

	if logger == nil {
		logger = log.Default()
	}

	return &Emitter{
		speaker: speaker,
		sink:    sink,
		opts:    opts,
		log:     logger,
		status:  StatusFor(classify.Unknown),
	}
}

// SetSession tags published statuses with the session id
func (e *Emitter) SetSession(id string) {
	e.mu.Lock()
	e.session = id
	e.mu.Unlock()
}

// OnLabelChanged publishes the new status and speaks the label unless it is
// the one spoken last
func (e *Emitter) OnLabelChanged(label classify.Label) {

	e.Show(label)

	e.mu.Lock()

	if label == e.lastSpoken || e.speaker == nil {
		e.mu.Unlock()
		return
	}

	phrase := Phrase(label)

	if phrase == "" {
		e.mu.Unlock()
		return
	}

	prev := e.current
	e.current = nil
	e.lastSpoken = label
	e.mu.Unlock()

	e.interrupt(prev)

	ctx, cancel := context.WithCancel(context.Background())

	u := &utterance{
		text:   phrase,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.current = u
	e.mu.Unlock()

	go e.speak(ctx, u)
}

func (e *Emitter) speak(ctx context.Context, u *utterance) {

	defer close(u.done)
	defer u.cancel()

	err := e.speaker.Speak(ctx, u.text)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == u {
		e.current = nil
	}

	switch {
	case err == nil:
		e.spoken++
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		e.cancelled++
	default:
		e.log.Printf("speech %q failed: %v", u.text, err)
	}
}

// interrupt cancels an utterance and waits for the speaker to let go of the
// audio device
func (e *Emitter) interrupt(u *utterance) {

	if u == nil {
		return
	}

	u.cancel()
	<-u.done
}

// Show updates and publishes the status without speaking
func (e *Emitter) Show(label classify.Label) {

	e.mu.Lock()
	s := StatusFor(label)
	s.Session = e.session
	s.State = e.status.State
	s.Elapsed = e.status.Elapsed
	s.At = time.Now()
	e.status = s
	e.mu.Unlock()

	e.publish(s)
}

// SetState records the session state shown alongside the label
func (e *Emitter) SetState(state string) {
	e.mu.Lock()
	e.status.State = state
	e.mu.Unlock()
}

// SetElapsed records the stopwatch text shown alongside the label
func (e *Emitter) SetElapsed(elapsed string) {
	e.mu.Lock()
	e.status.Elapsed = elapsed
	e.mu.Unlock()
}

func (e *Emitter) publish(s Status) {

	if e.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
	defer cancel()

	if err := e.sink.Publish(ctx, s); err != nil {
		e.log.Printf("status publish failed: %v", err)
	}
}

// Stop cancels any utterance in progress and forgets the last spoken label
// so the next session starts clean
func (e *Emitter) Stop() {

	e.mu.Lock()
	prev := e.current
	e.current = nil
	e.lastSpoken = classify.Unknown
	e.mu.Unlock()

	e.interrupt(prev)
}

// Speaking reports if an utterance is in progress
func (e *Emitter) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Status returns the current status
func (e *Emitter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Stats is a snapshot of emitter counters
type Stats struct {
	// Spoken is the number of utterances that completed
	Spoken uint64
	// Cancelled is the number of utterances replaced or stopped
	Cancelled uint64
}

// Stats returns the current counters
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Spoken: e.spoken, Cancelled: e.cancelled}
}
