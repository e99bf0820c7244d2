// Package pipeline wires the coaching stages together.  Camera frames pass
// through the admission gate to a single extraction worker which fills the
// sliding window and hands full windows to the classification trigger.
// Classification results, debounce timers and session transitions are all
// applied on one event loop goroutine, which owns the label stabilizer and
// drives the feedback emitter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swdee/go-posturecoach/admission"
	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/clock"
	"github.com/swdee/go-posturecoach/debounce"
	"github.com/swdee/go-posturecoach/feedback"
	"github.com/swdee/go-posturecoach/keypoint"
	"github.com/swdee/go-posturecoach/pose"
	"github.com/swdee/go-posturecoach/session"
	"github.com/swdee/go-posturecoach/window"
	"gocv.io/x/gocv"
)

// Deps are the components and settings an Engine is built from
type Deps struct {
	Extractor  pose.Extractor
	Classifier classify.Classifier
	// Speaker and Sink may be nil
	Speaker feedback.Speaker
	Sink    feedback.StatusSink
	// Clock defaults to the real clock
	Clock clock.Clock

	WindowCapacity int
	Orientation    pose.Orientation
	// PoseTimeout and ClassifierTimeout bound a single call, zero is
	// unbounded
	PoseTimeout       time.Duration
	ClassifierTimeout time.Duration
	MaxInFlight       int
	Debounce          time.Duration
	StartDelay        time.Duration

	// Logger receives dropped frames and stage failures, nil uses
	// log.Default()
	Logger *log.Logger
}

// job is an admitted frame waiting for the extraction worker
type job struct {
	ticket *admission.Ticket
	img    gocv.Mat
}

// Engine is the running coaching pipeline
type Engine struct {
	deps Deps
	log  *log.Logger

	gate       *admission.Controller
	adapter    *pose.Adapter
	trigger    *classify.Trigger
	stabilizer *debounce.Stabilizer
	emitter    *feedback.Emitter
	session    *session.Controller

	jobs chan job

	// windowMu orders window pushes and hand off against session stop
	windowMu sync.Mutex
	buffer   *window.Buffer

	latest  atomic.Pointer[keypoint.Frame]
	history atomic.Pointer[window.Snapshot]

	queue   *queue
	running atomic.Bool
	stopped chan struct{}

	failed   atomic.Uint64
	stale    atomic.Uint64
	observed atomic.Uint64
}

// New builds an Engine.  Admission stays closed until a session becomes
// active.
func New(deps Deps) (*Engine, error) {

	if deps.Extractor == nil || deps.Classifier == nil {
		return nil, errors.New("pipeline requires an extractor and a classifier")
	}

	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	logger := deps.Logger

	if logger == nil {
		logger = log.Default()
	}

	buffer, err := window.New(deps.WindowCapacity)

	if err != nil {
		return nil, fmt.Errorf("error creating window buffer: %w", err)
	}

	e := &Engine{
		deps:    deps,
		log:     logger,
		gate:    admission.New(),
		buffer:  buffer,
		jobs:    make(chan job, 1),
		queue:   newQueue(),
		stopped: make(chan struct{}),
	}

	e.gate.Close()

	e.adapter = pose.NewAdapter(deps.Extractor, pose.Options{
		Timeout: deps.PoseTimeout,
		Logger:  logger,
	})

	e.trigger = classify.NewTrigger(deps.Classifier, classify.TriggerOptions{
		Timeout:     deps.ClassifierTimeout,
		MaxInFlight: deps.MaxInFlight,
		Logger:      logger,
	})

	e.stabilizer = debounce.New(deps.Debounce, deps.Clock, e.queue.post)
	e.stabilizer.OnLabelChanged(e.onLabelChanged)

	e.emitter = feedback.NewEmitter(deps.Speaker, deps.Sink, feedback.Options{Logger: logger})
	e.emitter.SetState(session.Idle.String())

	e.session = session.New(deps.Clock, deps.StartDelay, e.queue.post)
	e.session.OnStateChanged(func(ev session.Event) {
		e.queue.post(func() { e.onSession(ev) })
	})

	return e, nil
}

// Submit offers a camera frame.  It returns false without blocking when the
// frame is dropped because another is in flight or no session is active.
// The image is copied, the caller keeps ownership of img.
func (e *Engine) Submit(img gocv.Mat) bool {

	ticket, err := e.gate.TryAdmit()

	if err != nil {
		return false
	}

	j := job{ticket: ticket, img: img.Clone()}

	select {
	case e.jobs <- j:
		return true
	default:
		// unreachable while tickets are exclusive
		j.img.Close()
		ticket.Release()
		return false
	}
}

// Run processes frames and feedback until ctx is done
func (e *Engine) Run(ctx context.Context) error {

	if !e.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		e.work(ctx)
	}()

	e.loop(ctx)

	e.gate.Close()
	wg.Wait()
	e.trigger.Discard()
	e.trigger.Wait()
	e.emitter.Stop()
	close(e.stopped)

	return ctx.Err()
}

// work is the extraction worker
func (e *Engine) work(ctx context.Context) {

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.process(ctx, j)
		}
	}
}

func (e *Engine) process(ctx context.Context, j job) {

	defer j.ticket.Release()

	frame, err := e.adapter.Extract(ctx, j.img, e.deps.Orientation)
	j.img.Close()

	if err != nil {
		e.failed.Add(1)

		if !errors.Is(err, context.Canceled) {
			e.log.Printf("frame dropped: %v", err)
		}

		return
	}

	e.latest.Store(&frame)

	e.windowMu.Lock()
	defer e.windowMu.Unlock()

	// the session stopped while this frame was being extracted
	if !j.ticket.Current() {
		e.stale.Add(1)
		return
	}

	snap, full := e.buffer.Push(frame)

	if !full {
		return
	}

	e.history.Store(&snap)
	e.trigger.OnWindowReady(ctx, snap)
}

// loop is the feedback event loop, the only goroutine touching the
// stabilizer
func (e *Engine) loop(ctx context.Context) {

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.queue.ready():
			for _, f := range e.queue.drain() {
				f()
			}

		case res := <-e.trigger.Results():
			e.stabilizer.Observe(res)
			e.observed.Add(1)
		}
	}
}

func (e *Engine) onLabelChanged(c debounce.Change) {
	e.emitter.OnLabelChanged(c.To)
}

func (e *Engine) onSession(ev session.Event) {

	e.stabilizer.SetActivity(ev.To)
	e.emitter.SetState(ev.To.String())

	switch ev.To {
	case session.Starting:
		e.emitter.SetSession(ev.ID)
		e.emitter.SetElapsed(session.FormatElapsed(0))
		e.emitter.Show(classify.Unknown)

	case session.Active:
		e.gate.Open()
		e.emitter.Show(e.stabilizer.Current())

	case session.Idle:
		e.windowMu.Lock()
		e.gate.Close()
		e.trigger.Discard()
		e.buffer.Reset()
		e.history.Store(nil)
		e.windowMu.Unlock()

		e.stabilizer.Reset()
		e.emitter.Stop()
		e.emitter.SetSession("")
		e.emitter.SetElapsed("")
		e.emitter.Show(classify.Unknown)
	}
}

// Start begins a session, returning its id
func (e *Engine) Start() string {
	return e.session.Start()
}

// Stop ends the running session
func (e *Engine) Stop() {
	e.session.Stop()
}

// State returns the session state
func (e *Engine) State() session.State {
	return e.session.State()
}

// Status returns the user visible status with a live stopwatch
func (e *Engine) Status() feedback.Status {

	st := e.emitter.Status()
	st.State = e.session.State().String()

	if st.State == session.Active.String() {
		st.Elapsed = session.FormatElapsed(e.session.Elapsed())
	}

	return st
}

// Keypoints returns the most recently extracted frame, unbuffered by the
// window, for the skeleton overlay
func (e *Engine) Keypoints() (keypoint.Frame, bool) {

	f := e.latest.Load()

	if f == nil {
		return keypoint.Frame{}, false
	}

	return *f, true
}

// History returns the frames of the last full window, oldest first
func (e *Engine) History() []keypoint.Frame {

	s := e.history.Load()

	if s == nil {
		return nil
	}

	return s.Frames()
}

// Stats is a snapshot of every stage's counters
type Stats struct {
	Admission admission.Stats
	Pose      pose.Stats
	Trigger   classify.TriggerStats
	Debounce  debounce.Stats
	Feedback  feedback.Stats
	// Failed is the number of admitted frames dropped by extraction errors
	Failed uint64
	// Stale is the number of frames extracted after their session ended
	Stale uint64
	// Observed is the number of classification results fed to the
	// stabilizer
	Observed uint64
}

// Stats returns the current counters.  Debounce counters are read on the
// event loop and are zero while it is not running.
func (e *Engine) Stats() Stats {

	s := Stats{
		Admission: e.gate.Stats(),
		Pose:      e.adapter.Stats(),
		Trigger:   e.trigger.Stats(),
		Feedback:  e.emitter.Stats(),
		Failed:    e.failed.Load(),
		Stale:     e.stale.Load(),
		Observed:  e.observed.Load(),
	}

	if !e.running.Load() {
		return s
	}

	reply := make(chan debounce.Stats, 1)
	e.queue.post(func() { reply <- e.stabilizer.Stats() })

	select {
	case s.Debounce = <-reply:
	case <-e.stopped:
	}

	return s
}
