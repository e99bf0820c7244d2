package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swdee/go-posturecoach/window"
)

// ErrShape is returned when a window does not match the input shape a
// classifier model was built for
var ErrShape = errors.New("window shape does not match classifier input")

// Classifier turns a full keypoint window into a probability distribution
// over the label vocabulary.  Implementations must be safe for concurrent
// use as classifications from successive windows may overlap.
type Classifier interface {
	Classify(ctx context.Context, snap window.Snapshot) (Result, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(ctx context.Context, snap window.Snapshot) (Result, error)

// Classify calls f(ctx, snap)
func (f ClassifierFunc) Classify(ctx context.Context, snap window.Snapshot) (Result, error) {
	return f(ctx, snap)
}

// Argmax returns the most probable vocabulary label of a probability mapping
func Argmax(probs map[string]float64) Label {
	return NewResult(probs).Argmax()
}

// TriggerOptions configures a Trigger
type TriggerOptions struct {
	// Timeout bounds a single classification call, a call exceeding it is
	// treated as a failure.  Zero means no bound.
	Timeout time.Duration
	// MaxInFlight caps overlapping classifier calls.  A call that timed out
	// keeps its slot until the classifier actually returns.  Windows becoming
	// ready while the cap is reached are skipped.  Defaults to 4.
	MaxInFlight int
	// Buffer is the capacity of the Results channel.  When the consumer
	// falls behind the oldest undelivered result is discarded.  Defaults to 1.
	Buffer int
	// Logger receives classification failures, nil uses log.Default()
	Logger *log.Logger
}

// Trigger hands ready windows to a classifier without blocking the caller
// and delivers results in completion order
type Trigger struct {
	classifier Classifier
	opts       TriggerOptions
	log        *log.Logger

	results chan Result
	sem     chan struct{}
	wg      sync.WaitGroup

	// mu serialises delivery so results leave in the order they complete
	mu sync.Mutex
	// lastSeq is the window sequence of the most recently delivered result
	lastSeq uint64
	// epoch is bumped by Discard to invalidate in-flight classifications
	epoch atomic.Uint64

	started   atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
	delivered atomic.Uint64
	overwrite atomic.Uint64
}

// NewTrigger returns a Trigger driving the classifier
func NewTrigger(classifier Classifier, opts TriggerOptions) *Trigger {

	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}

	if opts.Buffer <= 0 {
		opts.Buffer = 1
	}

	logger := opts.Logger

	if logger == nil {
		logger = log.Default()
	}

	return &Trigger{
		classifier: classifier,
		opts:       opts,
		log:        logger,
		results:    make(chan Result, opts.Buffer),
		sem:        make(chan struct{}, opts.MaxInFlight),
	}
}

// Results returns the channel results are delivered on.  Each result carries
// the Seq of the snapshot that produced it.
func (t *Trigger) Results() <-chan Result {
	return t.results
}

// OnWindowReady starts classification of the snapshot and returns
// immediately.  It reports false if the snapshot was skipped because too
// many classifications are already running.
func (t *Trigger) OnWindowReady(ctx context.Context, snap window.Snapshot) bool {

	select {
	case t.sem <- struct{}{}:
	default:
		t.skipped.Add(1)
		return false
	}

	t.started.Add(1)
	t.wg.Add(1)

	epoch := t.epoch.Load()

	go func() {
		defer t.wg.Done()
		t.run(ctx, epoch, snap)
	}()

	return true
}

// run performs one classification and delivers its result
func (t *Trigger) run(ctx context.Context, epoch uint64, snap window.Snapshot) {

	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	res, err := t.classify(ctx, snap)

	if err != nil {
		t.failed.Add(1)

		if !errors.Is(err, context.Canceled) {
			t.log.Printf("classification of window %d failed: %v", snap.Seq(), err)
		}
		return
	}

	res.Seq = snap.Seq()

	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}

	t.deliver(epoch, res)
}

// classify calls the classifier and enforces the timeout for backends that
// do not observe the context themselves.  The in-flight slot is released
// when the classifier returns, not when the timeout fires.
func (t *Trigger) classify(ctx context.Context, snap window.Snapshot) (Result, error) {

	type outcome struct {
		res Result
		err error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() { <-t.sem }()

		res, err := t.classifier.Classify(ctx, snap)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.res, out.err

	case <-ctx.Done():
		return Result{}, fmt.Errorf("classifier did not return: %w", ctx.Err())
	}
}

// deliver publishes res unless a result from a newer window already went out
// or the trigger was discarded since the classification started
func (t *Trigger) deliver(epoch uint64, res Result) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch.Load() {
		t.stale.Add(1)
		return
	}

	if res.Seq <= t.lastSeq {
		t.stale.Add(1)
		return
	}

	t.lastSeq = res.Seq

	for {
		select {
		case t.results <- res:
			t.delivered.Add(1)
			return

		default:
			// consumer is behind, drop the oldest waiting result
			select {
			case <-t.results:
				t.overwrite.Add(1)
			default:
			}
		}
	}
}

// Discard causes every classification currently in flight to be dropped
// when it completes.  Used when a session stops so late results never reach
// the stabilizer.
func (t *Trigger) Discard() {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.epoch.Add(1)

	for {
		select {
		case <-t.results:
			t.overwrite.Add(1)
		default:
			return
		}
	}
}

// Wait blocks until every classification has delivered, failed or timed
// out.  A classifier call that ignores its context may still be running.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// TriggerStats is a snapshot of trigger counters
type TriggerStats struct {
	Started   uint64
	Skipped   uint64
	Failed    uint64
	Stale     uint64
	Delivered uint64
	// Overwritten counts delivered results the consumer never read
	Overwritten uint64
}

// Stats returns the current counters
func (t *Trigger) Stats() TriggerStats {
	return TriggerStats{
		Started:     t.started.Load(),
		Skipped:     t.skipped.Load(),
		Failed:      t.failed.Load(),
		Stale:       t.stale.Load(),
		Delivered:   t.delivered.Load(),
		Overwritten: t.overwrite.Load(),
	}
}
