package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/clock"
	"github.com/swdee/go-posturecoach/config"
	"github.com/swdee/go-posturecoach/feedback"
	"github.com/swdee/go-posturecoach/keypoint"
	"github.com/swdee/go-posturecoach/pose"
	"github.com/swdee/go-posturecoach/session"
	"github.com/swdee/go-posturecoach/window"
	"gocv.io/x/gocv"
)

// bodyExtractor finds a body in any image whose first pixel is non zero
type bodyExtractor struct{}

func (bodyExtractor) Detect(ctx context.Context, img gocv.Mat) ([]keypoint.Keypoint, error) {

	if img.GetUCharAt(0, 0) == 0 {
		return nil, pose.ErrNoDetection
	}

	return []keypoint.Keypoint{
		{Joint: keypoint.Nose, X: 0.5, Y: 0.8, Confidence: 0.9},
		{Joint: keypoint.Neck, X: 0.5, Y: 0.7, Confidence: 0.9},
	}, nil
}

// newestClassifier labels a window correct when its newest frame has a body
// and static otherwise
var newestClassifier = classify.ClassifierFunc(func(ctx context.Context, snap window.Snapshot) (classify.Result, error) {

	label := classify.Static

	if snap.Frame(snap.Len() - 1).HasBody() {
		label = classify.Correct
	}

	return classify.NewResult(map[string]float64{string(label): 1}), nil
})

// recordingSpeaker completes every utterance immediately
type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (r *recordingSpeaker) Speak(ctx context.Context, text string) error {
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSpeaker) utterances() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

type harness struct {
	t       *testing.T
	engine  *Engine
	clk     *clock.Manual
	speaker *recordingSpeaker
	cancel  context.CancelFunc
	done    chan error
	empty   gocv.Mat
	body    gocv.Mat
}

func newHarness(t *testing.T, capacity int) *harness {

	clk := clock.NewManual(time.Unix(0, 0))
	sp := &recordingSpeaker{}

	e, err := New(Deps{
		Extractor:      bodyExtractor{},
		Classifier:     newestClassifier,
		Speaker:        sp,
		Clock:          clk,
		WindowCapacity: capacity,
		MaxInFlight:    2,
		Debounce:       600 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:       t,
		engine:  e,
		clk:     clk,
		speaker: sp,
		cancel:  cancel,
		done:    make(chan error, 1),
		empty:   gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 8, 8, gocv.MatTypeCV8UC3),
		body:    gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 8, 8, gocv.MatTypeCV8UC3),
	}

	go func() {
		h.done <- e.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-h.done
		h.empty.Close()
		h.body.Close()
	})

	return h
}

// eventually polls cond until it holds or the test times out
func (h *harness) eventually(what string, cond func() bool) {

	deadline := time.Now().Add(5 * time.Second)

	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}

		time.Sleep(time.Millisecond)
	}
}

// candidate reads the stabilizer's pending label on the event loop
func (h *harness) candidate() classify.Label {

	reply := make(chan classify.Label, 1)

	h.engine.queue.post(func() {
		label, _, _ := h.engine.stabilizer.Candidate()
		reply <- label
	})

	return <-reply
}

// feedUntil submits img until the stabilizer holds label as its candidate
func (h *harness) feedUntil(img gocv.Mat, label classify.Label) {
	h.eventually("candidate "+string(label), func() bool {
		h.engine.Submit(img)
		return h.candidate() == label
	})
}

func (h *harness) spoken(n int) []string {

	h.eventually("utterances", func() bool {
		return len(h.speaker.utterances()) >= n
	})

	return h.speaker.utterances()
}

func TestNoFramesAdmittedWhileIdle(t *testing.T) {

	h := newHarness(t, 3)

	if h.engine.Submit(h.body) {
		t.Fatalf("expected frame to be dropped with no session")
	}

	if st := h.engine.Status(); st.State != session.Idle.String() {
		t.Errorf("expected idle status, got %q", st.State)
	}
}

func TestStableLabelsAreSpokenOnce(t *testing.T) {

	h := newHarness(t, 3)

	if id := h.engine.Start(); id == "" {
		t.Fatalf("expected a session id")
	}

	h.feedUntil(h.empty, classify.Static)
	h.clk.Advance(600 * time.Millisecond)

	got := h.spoken(1)

	if got[0] != feedback.Phrase(classify.Static) {
		t.Fatalf("expected static phrase first, got %q", got[0])
	}

	h.feedUntil(h.body, classify.Correct)
	h.clk.Advance(600 * time.Millisecond)

	got = h.spoken(2)

	if got[1] != feedback.Phrase(classify.Correct) {
		t.Fatalf("expected correct phrase second, got %q", got[1])
	}

	// the same stable label is never repeated
	for i := 0; i < 5; i++ {
		h.engine.Submit(h.body)
		time.Sleep(time.Millisecond)
	}

	h.clk.Advance(600 * time.Millisecond)

	st := h.engine.Stats()

	if len(h.speaker.utterances()) != 2 {
		t.Errorf("expected 2 utterances, got %v", h.speaker.utterances())
	}

	if st.Debounce.Commits < 2 {
		t.Errorf("expected at least 2 commits, got %+v", st.Debounce)
	}

	if st.Pose.Extracted == 0 || st.Pose.NoBody == 0 {
		t.Errorf("expected both body and no body frames, got %+v", st.Pose)
	}

	if kp, ok := h.engine.Keypoints(); !ok || !kp.HasBody() {
		t.Errorf("expected latest keypoints with a body")
	}

	if len(h.engine.History()) != 3 {
		t.Errorf("expected a full window of history, got %d frames", len(h.engine.History()))
	}

	if status := h.engine.Status(); status.Label != string(classify.Correct) || status.State != session.Active.String() {
		t.Errorf("unexpected status %+v", status)
	}
}

// submitN offers img until n frames have been admitted
func (h *harness) submitN(img gocv.Mat, n int) {

	admitted := 0

	h.eventually("admitted frames", func() bool {
		if h.engine.Submit(img) {
			admitted++
		}
		return admitted >= n
	})
}

func TestDefaultWindowStaticThenCorrect(t *testing.T) {

	cfg := config.Default()
	capacity := cfg.WindowCapacity()

	if capacity != 60 {
		t.Fatalf("expected 30Hz x 2s = 60 frame window, got %d", capacity)
	}

	h := newHarness(t, capacity)
	h.engine.Start()

	// a full window of frames with nobody in view
	h.submitN(h.empty, capacity)
	h.feedUntil(h.empty, classify.Static)
	h.clk.Advance(cfg.DebounceDuration())

	got := h.spoken(1)

	if got[0] != feedback.Phrase(classify.Static) {
		t.Fatalf("expected static first, got %v", got)
	}

	// the user steps in and holds a correct posture
	h.feedUntil(h.body, classify.Correct)
	h.clk.Advance(cfg.DebounceDuration())
	h.spoken(2)

	h.submitN(h.body, capacity)
	h.clk.Advance(cfg.DebounceDuration())

	want := []string{feedback.Phrase(classify.Static), feedback.Phrase(classify.Correct)}
	got = h.speaker.utterances()

	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected exactly %v, got %v", want, got)
	}

	if n := len(h.engine.History()); n != capacity {
		t.Errorf("expected %d frames of history, got %d", capacity, n)
	}
}

func TestStopResetsAndRestartSpeaksAgain(t *testing.T) {

	h := newHarness(t, 3)

	h.engine.Start()
	h.feedUntil(h.body, classify.Correct)
	h.clk.Advance(600 * time.Millisecond)
	h.spoken(1)

	h.engine.Stop()

	h.eventually("idle admission", func() bool {
		return !h.engine.Submit(h.body) && h.engine.History() == nil
	})

	if st := h.engine.Status(); st.Label != string(classify.Unknown) || st.Session != "" {
		t.Errorf("expected cleared status after stop, got %+v", st)
	}

	h.engine.Start()
	h.feedUntil(h.body, classify.Correct)
	h.clk.Advance(600 * time.Millisecond)

	got := h.spoken(2)

	if got[1] != feedback.Phrase(classify.Correct) {
		t.Errorf("expected correct spoken again in the new session, got %v", got)
	}
}

func TestStartDelayHoldsAdmission(t *testing.T) {

	clk := clock.NewManual(time.Unix(0, 0))

	e, err := New(Deps{
		Extractor:      bodyExtractor{},
		Classifier:     newestClassifier,
		Clock:          clk,
		WindowCapacity: 2,
		StartDelay:     3 * time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- e.Run(ctx)
	}()

	defer func() {
		cancel()
		<-done
	}()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer img.Close()

	e.Start()

	if e.State() != session.Starting {
		t.Fatalf("expected starting, got %s", e.State())
	}

	time.Sleep(5 * time.Millisecond)

	if e.Submit(img) {
		t.Fatalf("expected frames dropped during the countdown")
	}

	clk.Advance(3 * time.Second)

	deadline := time.Now().Add(5 * time.Second)

	for !e.Submit(img) {
		if time.Now().After(deadline) {
			t.Fatalf("admission never opened")
		}

		time.Sleep(time.Millisecond)
	}

	if e.State() != session.Active {
		t.Errorf("expected active, got %s", e.State())
	}
}

func TestNewRequiresStages(t *testing.T) {

	if _, err := New(Deps{Classifier: newestClassifier, WindowCapacity: 1}); err == nil {
		t.Errorf("expected error without an extractor")
	}

	if _, err := New(Deps{Extractor: bodyExtractor{}, Classifier: newestClassifier}); err == nil {
		t.Errorf("expected error for zero window capacity")
	}
}
