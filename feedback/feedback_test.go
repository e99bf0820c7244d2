package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swdee/go-posturecoach/classify"
)

// blockingSpeaker holds every utterance open until released or cancelled
type blockingSpeaker struct {
	mu        sync.Mutex
	started   []string
	completed []string
	cancelled []string
	release   chan struct{}
}

func newBlockingSpeaker() *blockingSpeaker {
	return &blockingSpeaker{release: make(chan struct{})}
}

func (b *blockingSpeaker) Speak(ctx context.Context, text string) error {

	b.mu.Lock()
	b.started = append(b.started, text)
	b.mu.Unlock()

	select {
	case <-b.release:
		b.mu.Lock()
		b.completed = append(b.completed, text)
		b.mu.Unlock()
		return nil

	case <-ctx.Done():
		b.mu.Lock()
		b.cancelled = append(b.cancelled, text)
		b.mu.Unlock()
		return ctx.Err()
	}
}

func (b *blockingSpeaker) snapshot() (started, completed, cancelled []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.started...),
		append([]string(nil), b.completed...),
		append([]string(nil), b.cancelled...)
}

type memorySink struct {
	mu       sync.Mutex
	statuses []Status
}

func (m *memorySink) Publish(ctx context.Context, s Status) error {
	m.mu.Lock()
	m.statuses = append(m.statuses, s)
	m.mu.Unlock()
	return nil
}

func waitIdle(t *testing.T, e *Emitter) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for e.Speaking() {
		if time.Now().After(deadline) {
			t.Fatalf("utterance did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReplaceSemantics(t *testing.T) {

	sp := newBlockingSpeaker()
	e := NewEmitter(sp, nil, Options{})

	e.OnLabelChanged(classify.HeadDown)
	e.OnLabelChanged(classify.Correct)

	close(sp.release)
	waitIdle(t, e)

	_, completed, cancelled := sp.snapshot()

	if len(completed) != 1 || completed[0] != "correct" {
		t.Fatalf("expected only the replacing utterance spoken, got %v", completed)
	}

	if len(cancelled) != 1 || cancelled[0] != "head down" {
		t.Errorf("expected first utterance cancelled, got %v", cancelled)
	}

	if s := e.Stats(); s.Spoken != 1 || s.Cancelled != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestSameLabelNotRepeated(t *testing.T) {

	sp := newBlockingSpeaker()
	close(sp.release)

	e := NewEmitter(sp, nil, Options{})

	e.OnLabelChanged(classify.Static)
	waitIdle(t, e)
	e.OnLabelChanged(classify.Static)
	waitIdle(t, e)

	started, _, _ := sp.snapshot()

	if len(started) != 1 {
		t.Fatalf("expected label spoken once, got %v", started)
	}
}

func TestStopCancelsAndClearsLastSpoken(t *testing.T) {

	sp := newBlockingSpeaker()
	e := NewEmitter(sp, nil, Options{})

	e.OnLabelChanged(classify.HeadUp)
	e.Stop()

	if e.Speaking() {
		t.Fatalf("expected no utterance after stop")
	}

	_, _, cancelled := sp.snapshot()

	if len(cancelled) != 1 {
		t.Fatalf("expected in flight utterance cancelled, got %v", cancelled)
	}

	close(sp.release)

	// same label is spoken again in the next session
	e.OnLabelChanged(classify.HeadUp)
	waitIdle(t, e)

	_, completed, _ := sp.snapshot()

	if len(completed) != 1 || completed[0] != "head up" {
		t.Errorf("expected label spoken again after stop, got %v", completed)
	}
}

func TestStatusPublished(t *testing.T) {

	sink := &memorySink{}
	e := NewEmitter(nil, sink, Options{})

	e.SetSession("abc")
	e.SetState("active")
	e.OnLabelChanged(classify.ShouldersBack)

	if len(sink.statuses) != 1 {
		t.Fatalf("expected one status published, got %d", len(sink.statuses))
	}

	s := sink.statuses[0]

	if s.Display != "Incorrect: Shoulders Back" || s.Category != CategoryIncorrect || s.Session != "abc" || s.State != "active" {
		t.Errorf("unexpected status %+v", s)
	}

	if e.Status().Label != string(classify.ShouldersBack) {
		t.Errorf("expected current status updated")
	}
}

func TestMapping(t *testing.T) {

	tests := []struct {
		label    classify.Label
		phrase   string
		display  string
		category Category
		color    string
	}{
		{classify.Correct, "correct", "Correct", CategoryCorrect, "#ffffff"},
		{classify.HeadDown, "head down", "Incorrect: Head Down", CategoryIncorrect, "#ff3b30"},
		{classify.ShouldersForward, "shoulders forward", "Incorrect: Shoulders Forward", CategoryIncorrect, "#ff3b30"},
		{classify.Static, "static", "Static", CategoryIncorrect, "#ff3b30"},
		{classify.PaceFast, "pace fast", "Incorrect: Pace Fast", CategoryIncorrect, "#ff3b30"},
		{classify.Unknown, "", NoBodyText, CategoryNoBody, "#8e8e93"},
	}

	for _, tc := range tests {
		if got := Phrase(tc.label); got != tc.phrase {
			t.Errorf("Phrase(%q) expected %q, got %q", tc.label, tc.phrase, got)
		}

		s := StatusFor(tc.label)

		if s.Display != tc.display || s.Category != tc.category || s.Color != tc.color {
			t.Errorf("StatusFor(%q) got %+v", tc.label, s)
		}
	}
}
