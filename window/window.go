// Package window provides the fixed capacity sliding window of keypoint
// frames that feeds the posture classifier.
package window

import (
	"fmt"
	"math"

	"github.com/swdee/go-posturecoach/keypoint"
)

// Capacity returns the number of frames in a window sampled at rateHz for
// the given duration in seconds
func Capacity(rateHz int, seconds float64) int {
	return int(math.Round(float64(rateHz) * seconds))
}

// Buffer is a ring of the most recent keypoint frames.  It has a single
// writer; readers only ever see Snapshots.
type Buffer struct {
	// frames is the ring storage
	frames []keypoint.Frame
	// head is the index of the oldest frame
	head int
	// count is the number of frames held
	count int
	// pushed is the total number of frames ever pushed
	pushed uint64
}

// New returns an empty Buffer holding at most capacity frames
func New(capacity int) (*Buffer, error) {

	if capacity < 1 {
		return nil, fmt.Errorf("window capacity must be positive, got %d", capacity)
	}

	return &Buffer{
		frames: make([]keypoint.Frame, capacity),
	}, nil
}

// Push appends the frame, evicting the single oldest frame when the window
// is full.  A Snapshot is returned whenever the window is at capacity after
// the push, so the first one arrives on the push that fills the window and a
// fresh one follows every later push.
func (b *Buffer) Push(frame keypoint.Frame) (Snapshot, bool) {

	capacity := len(b.frames)
	b.pushed++

	if b.count == capacity {
		// evict oldest by overwriting it and moving head forward
		b.frames[b.head] = frame
		b.head = (b.head + 1) % capacity
	} else {
		b.frames[(b.head+b.count)%capacity] = frame
		b.count++
	}

	if b.count < capacity {
		return Snapshot{}, false
	}

	return b.snapshot(), true
}

// snapshot copies the window content oldest first
func (b *Buffer) snapshot() Snapshot {

	capacity := len(b.frames)
	out := make([]keypoint.Frame, b.count)

	for i := 0; i < b.count; i++ {
		out[i] = b.frames[(b.head+i)%capacity]
	}

	return Snapshot{
		seq:    b.pushed,
		frames: out,
	}
}

// Len returns the number of frames held
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the window capacity
func (b *Buffer) Cap() int {
	return len(b.frames)
}

// Ready reports if the window is at capacity
func (b *Buffer) Ready() bool {
	return b.count == len(b.frames)
}

// Reset empties the window so the next session primes from scratch
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}

// Snapshot is an immutable copy of a full window
type Snapshot struct {
	// seq is the push count at which the snapshot was taken, it orders
	// snapshots by freshness
	seq    uint64
	frames []keypoint.Frame
}

// Seq returns the sequence number of the newest frame in the snapshot
func (s Snapshot) Seq() uint64 {
	return s.seq
}

// Len returns the number of frames in the snapshot
func (s Snapshot) Len() int {
	return len(s.frames)
}

// Frame returns the i'th frame, oldest first
func (s Snapshot) Frame(i int) keypoint.Frame {
	return s.frames[i]
}

// Frames returns a copy of the frames, oldest first
func (s Snapshot) Frames() []keypoint.Frame {
	out := make([]keypoint.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Tensor serializes the snapshot into the classifier input layout
// [frames, channels, joints]: frame-major, then x/y/confidence, then joint
func (s Snapshot) Tensor() []float32 {

	out := make([]float32, 0, len(s.frames)*keypoint.Channels*keypoint.JointCount)

	for _, f := range s.frames {
		out = f.AppendValues(out)
	}

	return out
}

// TensorShape returns the dimensions matching Tensor()
func (s Snapshot) TensorShape() [3]int {
	return [3]int{len(s.frames), keypoint.Channels, keypoint.JointCount}
}
