package debounce

import (
	"testing"
	"time"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/clock"
	"github.com/swdee/go-posturecoach/session"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

const (
	labelA = classify.Correct
	labelB = classify.HeadDown
	labelC = classify.ShouldersForward
)

type recorder struct {
	changes []Change
}

func (r *recorder) handle(c Change) {
	r.changes = append(r.changes, c)
}

func newActive(t *testing.T) (*Stabilizer, *clock.Manual, *recorder) {
	t.Helper()

	clk := clock.NewManual(epoch)
	s := New(DefaultDuration, clk, nil)
	s.SetActivity(session.Active)

	rec := &recorder{}
	s.OnLabelChanged(rec.handle)

	return s, clk, rec
}

func TestQuietPeriodCommitsWinningRun(t *testing.T) {

	s, clk, rec := newActive(t)

	step := 100 * time.Millisecond
	seq := []classify.Label{labelA, labelA, labelB, labelA, labelC, labelC, labelC, labelC}

	var firstC time.Time

	for i, l := range seq {
		if i > 0 {
			clk.Advance(step)
		}

		if l == labelC && firstC.IsZero() {
			firstC = clk.Now()
		}

		s.ObserveLabel(l, uint64(i+1))
	}

	// run out the rest of the quiet period one millisecond short
	clk.Advance(firstC.Add(DefaultDuration).Sub(clk.Now()) - time.Millisecond)

	if len(rec.changes) != 0 {
		t.Fatalf("expected no commit before quiet period, got %+v", rec.changes)
	}

	clk.Advance(time.Millisecond)

	if len(rec.changes) != 1 {
		t.Fatalf("expected exactly one commit, got %d", len(rec.changes))
	}

	ch := rec.changes[0]

	if ch.To != labelC || ch.From != classify.Unknown {
		t.Errorf("expected unset -> %q, got %q -> %q", labelC, ch.From, ch.To)
	}

	if !ch.At.Equal(firstC.Add(DefaultDuration)) {
		t.Errorf("expected commit at %v, got %v", firstC.Add(DefaultDuration), ch.At)
	}

	if ch.Seq != 5 {
		t.Errorf("expected commit attributed to first C window, got seq %d", ch.Seq)
	}

	clk.Advance(5 * time.Second)

	if len(rec.changes) != 1 || s.Current() != labelC || s.Phase() != Committed {
		t.Errorf("expected single stable commit to %q, got %d changes current %q", labelC, len(rec.changes), s.Current())
	}
}

func TestFlickerNeverCommits(t *testing.T) {

	s, clk, rec := newActive(t)

	for i := 0; i < 100; i++ {
		l := labelA
		if i%2 == 1 {
			l = labelB
		}

		s.ObserveLabel(l, uint64(i+1))
		clk.Advance(DefaultDuration - 10*time.Millisecond)
	}

	if len(rec.changes) != 0 {
		t.Fatalf("expected no commits under flicker, got %d", len(rec.changes))
	}

	if s.Current() != classify.Unknown || s.Phase() != Pending {
		t.Errorf("expected nothing committed, got %q phase %v", s.Current(), s.Phase())
	}
}

func TestReturnToCommittedCancelsCandidate(t *testing.T) {

	s, clk, rec := newActive(t)

	s.ObserveLabel(labelA, 1)
	clk.Advance(DefaultDuration)

	s.ObserveLabel(labelB, 2)
	clk.Advance(300 * time.Millisecond)
	s.ObserveLabel(labelA, 3)
	clk.Advance(2 * DefaultDuration)

	if len(rec.changes) != 1 || s.Current() != labelA {
		t.Fatalf("expected only the initial commit, got %+v", rec.changes)
	}

	if clk.Pending() != 0 {
		t.Errorf("expected no pending timers")
	}
}

func TestInactiveSuppressesEvents(t *testing.T) {

	clk := clock.NewManual(epoch)
	s := New(DefaultDuration, clk, nil)

	called := 0
	s.OnLabelChanged(func(Change) { called++ })

	for _, state := range []session.State{session.Idle, session.Starting} {
		s.SetActivity(state)
		s.Reset()

		s.ObserveLabel(labelB, 1)
		clk.Advance(DefaultDuration)

		if s.Current() != labelB {
			t.Errorf("%v: expected label still tracked, got %q", state, s.Current())
		}
	}

	if called != 0 {
		t.Fatalf("expected no events while not active, got %d", called)
	}

	if s.Stats().Suppressed != 2 {
		t.Errorf("expected 2 suppressed commits, got %d", s.Stats().Suppressed)
	}

	s.SetActivity(session.Active)
	s.ObserveLabel(labelC, 2)
	clk.Advance(DefaultDuration)

	if called != 1 {
		t.Errorf("expected event once active, got %d", called)
	}
}

func TestUnknownCandidateIgnored(t *testing.T) {

	s, clk, rec := newActive(t)

	s.ObserveLabel(labelA, 1)
	clk.Advance(300 * time.Millisecond)
	s.Observe(classify.NewResult(map[string]float64{}))
	clk.Advance(300 * time.Millisecond)

	if len(rec.changes) != 1 || rec.changes[0].To != labelA {
		t.Errorf("expected unknown result not to disturb pending candidate, got %+v", rec.changes)
	}
}

func TestResetCancelsPending(t *testing.T) {

	s, clk, rec := newActive(t)

	s.ObserveLabel(labelA, 1)
	s.Reset()
	clk.Advance(time.Second)

	if len(rec.changes) != 0 || s.Phase() != Unset {
		t.Errorf("expected reset to cancel pending commit")
	}
}

func TestQueuedTimerLosesToNewCandidate(t *testing.T) {

	clk := clock.NewManual(epoch)

	var queued []func()
	s := New(DefaultDuration, clk, func(f func()) { queued = append(queued, f) })
	s.SetActivity(session.Active)

	rec := &recorder{}
	s.OnLabelChanged(rec.handle)

	s.ObserveLabel(labelA, 1)
	clk.Advance(DefaultDuration)

	// timer fired but its callback has not run on the owning goroutine yet
	s.ObserveLabel(labelB, 2)

	for _, f := range queued {
		f()
	}

	if len(rec.changes) != 0 {
		t.Fatalf("expected stale timer callback ignored, got %+v", rec.changes)
	}

	if l, _, ok := s.Candidate(); !ok || l != labelB {
		t.Errorf("expected %q pending, got %q", labelB, l)
	}
}
