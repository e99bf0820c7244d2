package window

import (
	"math/rand"
	"testing"

	"github.com/swdee/go-posturecoach/keypoint"
)

// taggedFrame returns a frame whose nose confidence carries the tag so frames
// can be told apart after passing through the buffer
func taggedFrame(t *testing.T, tag int) keypoint.Frame {
	t.Helper()

	pts := make([]keypoint.Keypoint, keypoint.JointCount)
	pts[0] = keypoint.Keypoint{X: 0.5, Y: 0.5, Confidence: float32(tag)}

	f, err := keypoint.NewFrame(pts)

	if err != nil {
		t.Fatalf("failed to build frame: %v", err)
	}

	return f
}

func tagOf(f keypoint.Frame) int {
	return int(f.At(keypoint.Nose).Confidence)
}

func TestCapacity(t *testing.T) {

	tests := []struct {
		rate    int
		seconds float64
		want    int
	}{
		{30, 2, 60},
		{15, 2, 30},
		{30, 0.5, 15},
		{10, 1.25, 13},
	}

	for _, tc := range tests {
		if got := Capacity(tc.rate, tc.seconds); got != tc.want {
			t.Errorf("Capacity(%d, %v) expected %d, got %d", tc.rate, tc.seconds, tc.want, got)
		}
	}
}

func TestNewRejectsEmptyCapacity(t *testing.T) {

	if _, err := New(0); err == nil {
		t.Errorf("expected error for zero capacity")
	}
}

func TestReadyOnceThenContinuous(t *testing.T) {

	const capacity = 60

	b, err := New(capacity)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i <= capacity+10; i++ {
		snap, ready := b.Push(taggedFrame(t, i))

		if i < capacity && ready {
			t.Fatalf("push %d: snapshot returned before window was full", i)
		}

		if i >= capacity {
			if !ready {
				t.Fatalf("push %d: expected snapshot once window is primed", i)
			}

			if snap.Len() != capacity {
				t.Fatalf("push %d: expected snapshot of %d frames, got %d", i, capacity, snap.Len())
			}

			if snap.Seq() != uint64(i) {
				t.Errorf("push %d: expected seq %d, got %d", i, i, snap.Seq())
			}
		}
	}
}

func TestRingHoldsLastFramesInOrder(t *testing.T) {

	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		capacity := 1 + rng.Intn(20)
		pushes := capacity + rng.Intn(100)

		b, _ := New(capacity)

		var last Snapshot

		for i := 1; i <= pushes; i++ {
			snap, ready := b.Push(taggedFrame(t, i))

			if ready {
				last = snap
			}
		}

		if b.Len() != capacity {
			t.Fatalf("capacity %d: expected len %d, got %d", capacity, capacity, b.Len())
		}

		for i := 0; i < capacity; i++ {
			want := pushes - capacity + 1 + i

			if got := tagOf(last.Frame(i)); got != want {
				t.Fatalf("capacity %d pushes %d: frame %d expected tag %d, got %d",
					capacity, pushes, i, want, got)
			}
		}
	}
}

func TestSnapshotIsolatedFromLaterPushes(t *testing.T) {

	b, _ := New(3)

	b.Push(taggedFrame(t, 1))
	b.Push(taggedFrame(t, 2))
	snap, _ := b.Push(taggedFrame(t, 3))

	b.Push(taggedFrame(t, 4))
	b.Push(taggedFrame(t, 5))

	for i, want := range []int{1, 2, 3} {
		if got := tagOf(snap.Frame(i)); got != want {
			t.Errorf("frame %d: expected tag %d, got %d", i, want, got)
		}
	}

	frames := snap.Frames()
	frames[0] = taggedFrame(t, 99)

	if tagOf(snap.Frame(0)) != 1 {
		t.Errorf("mutating Frames() result changed the snapshot")
	}
}

func TestResetRequiresRefill(t *testing.T) {

	b, _ := New(2)

	b.Push(taggedFrame(t, 1))
	b.Push(taggedFrame(t, 2))
	b.Reset()

	if b.Ready() {
		t.Fatalf("expected window not ready after reset")
	}

	if _, ready := b.Push(taggedFrame(t, 3)); ready {
		t.Errorf("expected no snapshot on first push after reset")
	}

	snap, ready := b.Push(taggedFrame(t, 4))

	if !ready || tagOf(snap.Frame(0)) != 3 || tagOf(snap.Frame(1)) != 4 {
		t.Errorf("expected refilled window [3 4], got ready=%v", ready)
	}
}

func TestTensorLayout(t *testing.T) {

	b, _ := New(2)

	b.Push(taggedFrame(t, 7))
	snap, _ := b.Push(taggedFrame(t, 8))

	tensor := snap.Tensor()
	shape := snap.TensorShape()

	if shape != [3]int{2, keypoint.Channels, keypoint.JointCount} {
		t.Fatalf("unexpected shape %v", shape)
	}

	if len(tensor) != shape[0]*shape[1]*shape[2] {
		t.Fatalf("expected %d values, got %d", shape[0]*shape[1]*shape[2], len(tensor))
	}

	frameSize := keypoint.Channels * keypoint.JointCount
	confOffset := 2 * keypoint.JointCount

	// [frame][channel][joint] with nose at joint 0
	if tensor[0] != 0.5 || tensor[confOffset] != 7 {
		t.Errorf("frame 0 laid out wrong: x=%v conf=%v", tensor[0], tensor[confOffset])
	}

	if tensor[frameSize+confOffset] != 8 {
		t.Errorf("frame 1 confidence expected 8, got %v", tensor[frameSize+confOffset])
	}
}
