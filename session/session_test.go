package session

import (
	"testing"
	"time"

	"github.com/swdee/go-posturecoach/clock"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func TestStartDelayThenActive(t *testing.T) {

	clk := clock.NewManual(epoch)
	c := New(clk, DefaultStartDelay, nil)

	var events []Event
	c.OnStateChanged(func(ev Event) { events = append(events, ev) })

	id := c.Start()

	if id == "" {
		t.Fatalf("expected session id")
	}

	if c.State() != Starting {
		t.Fatalf("expected starting, got %v", c.State())
	}

	clk.Advance(2900 * time.Millisecond)

	if c.State() != Starting {
		t.Fatalf("expected still starting before delay, got %v", c.State())
	}

	clk.Advance(100 * time.Millisecond)

	if c.State() != Active {
		t.Fatalf("expected active after delay, got %v", c.State())
	}

	if len(events) != 2 || events[0].To != Starting || events[1].To != Active {
		t.Fatalf("unexpected events %+v", events)
	}

	for _, ev := range events {
		if ev.ID != id {
			t.Errorf("event carries id %q, expected %q", ev.ID, id)
		}
	}

	if !events[1].At.Equal(epoch.Add(DefaultStartDelay)) {
		t.Errorf("active at %v, expected %v", events[1].At, epoch.Add(DefaultStartDelay))
	}
}

func TestStopDuringCountdownCancels(t *testing.T) {

	clk := clock.NewManual(epoch)
	c := New(clk, DefaultStartDelay, nil)

	c.Start()
	clk.Advance(time.Second)
	c.Stop()

	clk.Advance(5 * time.Second)

	if c.State() != Idle {
		t.Fatalf("expected idle after stop, got %v", c.State())
	}

	if clk.Pending() != 0 {
		t.Errorf("expected countdown timer cancelled")
	}
}

func TestRestartIgnoresOldTimer(t *testing.T) {

	clk := clock.NewManual(epoch)

	// dispatch is deferred so the old timer fires after the restart
	var queued []func()
	c := New(clk, time.Second, func(f func()) { queued = append(queued, f) })

	first := c.Start()
	clk.Advance(time.Second)
	c.Stop()
	second := c.Start()

	if first == second {
		t.Fatalf("expected new session id on restart")
	}

	for _, f := range queued {
		f()
	}

	if c.State() != Starting {
		t.Fatalf("expected stale countdown ignored, got %v", c.State())
	}
}

func TestElapsed(t *testing.T) {

	clk := clock.NewManual(epoch)
	c := New(clk, 0, nil)

	if c.Elapsed() != 0 {
		t.Errorf("expected zero elapsed while idle")
	}

	c.Start()

	if c.State() != Active {
		t.Fatalf("expected zero start delay to activate immediately")
	}

	clk.Advance(65*time.Second + 470*time.Millisecond)

	if got := c.Elapsed(); got != 65*time.Second+400*time.Millisecond {
		t.Errorf("expected elapsed truncated to tenths, got %v", got)
	}

	c.Stop()

	if c.Elapsed() != 0 {
		t.Errorf("expected stopwatch reset on stop")
	}
}

func TestFormatElapsed(t *testing.T) {

	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00.0"},
		{1500 * time.Millisecond, "00:01.5"},
		{65*time.Second + 400*time.Millisecond, "01:05.4"},
		{10*time.Minute + 59*time.Second + 990*time.Millisecond, "10:59.9"},
		{-time.Second, "00:00.0"},
	}

	for _, tc := range tests {
		if got := FormatElapsed(tc.d); got != tc.want {
			t.Errorf("FormatElapsed(%v) expected %q, got %q", tc.d, tc.want, got)
		}
	}
}
