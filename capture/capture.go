// Package capture delivers camera or video file frames at a fixed target
// rate.  Frames are handed to a Sink that must not block, a sink that is
// busy simply declines the frame.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Sink receives frames.  The image is only valid for the duration of the
// call, a sink keeping it must copy it.  Submit returns false when the frame
// was declined.
type Sink interface {
	Submit(img gocv.Mat) bool
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(img gocv.Mat) bool

// Submit calls f(img)
func (f SinkFunc) Submit(img gocv.Mat) bool {
	return f(img)
}

// reader is the part of gocv.VideoCapture a Source reads from
type reader interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Close() error
}

// Config selects the frame source
type Config struct {
	// Device is the camera index, used when File is empty
	Device int
	// File is a video file to play instead of a camera
	File string
	// RateHz is the target frame delivery rate
	RateHz int
	// Loop restarts a video file when it ends
	Loop bool
}

// Source reads frames from a camera or video file
type Source struct {
	cfg   Config
	video reader
	tick  func() (<-chan time.Time, func())

	read     atomic.Uint64
	accepted atomic.Uint64
	declined atomic.Uint64
	empty    atomic.Uint64
}

// Open opens the camera or video file
func Open(cfg Config) (*Source, error) {

	if cfg.RateHz <= 0 {
		return nil, fmt.Errorf("invalid capture rate %d", cfg.RateHz)
	}

	var (
		video *gocv.VideoCapture
		err   error
	)

	if cfg.File != "" {
		video, err = gocv.VideoCaptureFile(cfg.File)
	} else {
		video, err = gocv.OpenVideoCapture(cfg.Device)
	}

	if err != nil {
		return nil, fmt.Errorf("error opening video source: %w", err)
	}

	return newSource(cfg, video), nil
}

func newSource(cfg Config, video reader) *Source {

	interval := time.Second / time.Duration(cfg.RateHz)

	return &Source{
		cfg:   cfg,
		video: video,
		tick: func() (<-chan time.Time, func()) {
			t := time.NewTicker(interval)
			return t.C, t.Stop
		},
	}
}

// Run delivers a frame to sink on every tick until ctx is done or the video
// ends.  A video file that ends without Loop set returns io.EOF.
func (s *Source) Run(ctx context.Context, sink Sink) error {

	img := gocv.NewMat()
	defer img.Close()

	ticks, stop := s.tick()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticks:
			if ok := s.video.Read(&img); !ok {
				if s.cfg.File == "" {
					return errors.New("camera stopped delivering frames")
				}

				if !s.cfg.Loop {
					return io.EOF
				}

				// rewind and try again on the next tick
				s.video.Set(gocv.VideoCapturePosFrames, 0)
				continue
			}

			if img.Empty() {
				s.empty.Add(1)
				continue
			}

			s.read.Add(1)

			if sink.Submit(img) {
				s.accepted.Add(1)
			} else {
				s.declined.Add(1)
			}
		}
	}
}

// Close releases the video source
func (s *Source) Close() error {
	return s.video.Close()
}

// Stats is a snapshot of source counters
type Stats struct {
	Read     uint64
	Accepted uint64
	Declined uint64
	Empty    uint64
}

// Stats returns the source counters
func (s *Source) Stats() Stats {
	return Stats{
		Read:     s.read.Load(),
		Accepted: s.accepted.Load(),
		Declined: s.declined.Load(),
		Empty:    s.empty.Load(),
	}
}
