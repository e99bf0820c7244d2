// Package pose adapts a body keypoint extractor to the fixed frame layout
// the window buffer expects.  Detection misses and extractor faults become
// "no body" frames so a single bad frame never stalls the sliding window,
// only a source image that cannot be read is returned as an error.
package pose

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/swdee/go-posturecoach/keypoint"
	"gocv.io/x/gocv"
)

var (
	// ErrSourceImage is returned when the frame image cannot be read
	ErrSourceImage = errors.New("source image unreadable")
	// ErrTimeout marks an extraction that exceeded its latency bound
	ErrTimeout = errors.New("pose extraction timed out")
	// ErrNoDetection may be returned by an Extractor that found no person
	ErrNoDetection = errors.New("no person detected")
)

// Extractor finds the body keypoints of one person in an upright image.
// Keypoint coordinates are normalized to [0,1] with the origin at the bottom
// left.  An empty result or ErrNoDetection means no person was found.
// Errors wrapping ErrSourceImage are treated as I/O failures.
type Extractor interface {
	Detect(ctx context.Context, img gocv.Mat) ([]keypoint.Keypoint, error)
}

// Orientation is how the camera image must be rotated to be upright
type Orientation int

const (
	// Up is an upright image
	Up Orientation = iota
	// Right images need rotating 90 degrees clockwise
	Right
	// Down images need rotating 180 degrees
	Down
	// Left images need rotating 90 degrees counter clockwise
	Left
)

// String returns the orientation name
func (o Orientation) String() string {
	switch o {
	case Up:
		return "up"
	case Right:
		return "right"
	case Down:
		return "down"
	case Left:
		return "left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// ParseOrientation parses an orientation name
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "up":
		return Up, nil
	case "right":
		return Right, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	default:
		return Up, fmt.Errorf("unknown orientation %q", s)
	}
}

// Upright returns a new Mat holding img rotated to upright.  The caller
// owns the returned Mat.
func Upright(img gocv.Mat, o Orientation) gocv.Mat {

	out := gocv.NewMat()

	switch o {
	case Right:
		gocv.Rotate(img, &out, gocv.Rotate90Clockwise)
	case Down:
		gocv.Rotate(img, &out, gocv.Rotate180Clockwise)
	case Left:
		gocv.Rotate(img, &out, gocv.Rotate90CounterClockwise)
	default:
		img.CopyTo(&out)
	}

	return out
}

// Options configures an Adapter
type Options struct {
	// Timeout bounds a single Detect call.  A call exceeding it produces a no
	// body frame.  Zero means no bound.
	Timeout time.Duration
	// Logger receives extractor faults, nil uses log.Default()
	Logger *log.Logger
}

// Adapter wraps an Extractor
type Adapter struct {
	extractor Extractor
	opts      Options
	log       *log.Logger

	extracted atomic.Uint64
	noBody    atomic.Uint64
	faults    atomic.Uint64
	timeouts  atomic.Uint64
}

// NewAdapter returns an Adapter around the extractor
func NewAdapter(extractor Extractor, opts Options) *Adapter {

	logger := opts.Logger

	if logger == nil {
		logger = log.Default()
	}

	return &Adapter{
		extractor: extractor,
		opts:      opts,
		log:       logger,
	}
}

type detection struct {
	points []keypoint.Keypoint
	err    error
}

// Extract returns the keypoint frame for img.  The image is not retained, it
// may be closed by the caller as soon as Extract returns.
func (a *Adapter) Extract(ctx context.Context, img gocv.Mat, o Orientation) (keypoint.Frame, error) {

	if img.Empty() {
		return keypoint.Frame{}, ErrSourceImage
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	// the extractor works on its own copy so a timed out call can keep
	// reading it after we return
	upright := Upright(img, o)

	if upright.Empty() {
		upright.Close()
		return keypoint.Frame{}, ErrSourceImage
	}

	done := make(chan detection, 1)

	go func() {
		defer upright.Close()

		points, err := a.extractor.Detect(ctx, upright)
		done <- detection{points, err}
	}()

	var d detection

	select {
	case d = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			a.timeouts.Add(1)
			d.err = ErrTimeout
		} else {
			return keypoint.Frame{}, ctx.Err()
		}
	}

	return a.frame(d)
}

// frame converts an extractor outcome into a Frame
func (a *Adapter) frame(d detection) (keypoint.Frame, error) {

	switch {
	case d.err == nil:

	case errors.Is(d.err, ErrSourceImage):
		return keypoint.Frame{}, d.err

	case errors.Is(d.err, ErrNoDetection):
		a.noBody.Add(1)
		return keypoint.NoBody(), nil

	case errors.Is(d.err, ErrTimeout):
		a.log.Printf("pose extraction exceeded %v, using empty frame", a.opts.Timeout)
		return keypoint.NoBody(), nil

	default:
		a.faults.Add(1)
		a.log.Printf("pose extractor failed, using empty frame: %v", d.err)
		return keypoint.NoBody(), nil
	}

	if len(d.points) == 0 {
		a.noBody.Add(1)
		return keypoint.NoBody(), nil
	}

	f, err := keypoint.FromJoints(d.points)

	if err != nil {
		return keypoint.Frame{}, fmt.Errorf("extractor output: %w", err)
	}

	a.extracted.Add(1)

	if !f.HasBody() {
		a.noBody.Add(1)
	}

	return f, nil
}

// Stats is a snapshot of adapter counters
type Stats struct {
	// Extracted is the number of frames built from extractor keypoints
	Extracted uint64
	// NoBody is the number of frames with no detected joint
	NoBody uint64
	// Faults is the number of extractor errors turned into no body frames
	Faults uint64
	// Timeouts is the number of extractions that exceeded the bound
	Timeouts uint64
}

// Stats returns the current counters
func (a *Adapter) Stats() Stats {
	return Stats{
		Extracted: a.extracted.Load(),
		NoBody:    a.noBody.Load(),
		Faults:    a.faults.Load(),
		Timeouts:  a.timeouts.Load(),
	}
}
