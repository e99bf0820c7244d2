// Package espeak speaks feedback phrases through a command line speech
// synthesizer such as espeak-ng.  Cancelling the context kills the
// synthesizer so a newer phrase can replace the one being spoken.
package espeak

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultCommand is the synthesizer binary
const DefaultCommand = "espeak-ng"

// DefaultArgs is the argument template, {voice}, {wpm} and {text} are
// substituted per utterance
var DefaultArgs = []string{"-v", "{voice}", "-s", "{wpm}", "{text}"}

// Speaker runs one synthesizer process per utterance
type Speaker struct {
	Command string
	Args    []string
	Voice   string
	// WPM is the speaking rate in words per minute
	WPM int
}

// New returns a Speaker for the voice at the given normalized rate, where
// 0.5 is a normal speaking pace
func New(command, voice string, rate float64) *Speaker {

	if command == "" {
		command = DefaultCommand
	}

	if voice == "" {
		voice = "en-us"
	}

	return &Speaker{
		Command: command,
		Args:    DefaultArgs,
		Voice:   voice,
		WPM:     WPMForRate(rate),
	}
}

// WPMForRate maps a normalized rate in [0,1] to words per minute.  0.5 maps
// to 175, the synthesizer's default pace.
func WPMForRate(rate float64) int {

	if rate < 0 {
		rate = 0
	}

	if rate > 1 {
		rate = 1
	}

	return int(math.Round(80 + rate*190))
}

// args expands the argument template for text
func (s *Speaker) args(text string) []string {

	tmpl := s.Args

	if tmpl == nil {
		tmpl = DefaultArgs
	}

	r := strings.NewReplacer(
		"{voice}", s.Voice,
		"{wpm}", strconv.Itoa(s.WPM),
		"{text}", text,
	)

	out := make([]string, len(tmpl))

	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}

	return out
}

// Speak blocks until the utterance finishes or ctx is cancelled
func (s *Speaker) Speak(ctx context.Context, text string) error {

	cmd := exec.CommandContext(ctx, s.Command, s.args(text)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%s failed: %w: %s", s.Command, err, strings.TrimSpace(stderr.String()))
	}

	return nil
}
