package feedback

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/swdee/go-posturecoach/classify"
)

// Category groups labels by how they are presented
type Category string

const (
	// CategoryCorrect is good posture
	CategoryCorrect Category = "correct"
	// CategoryIncorrect is any posture the user should correct
	CategoryIncorrect Category = "incorrect"
	// CategoryNoBody is shown when no label is known
	CategoryNoBody Category = "none"
)

// NoBodyText is displayed when no person is recognized
const NoBodyText = "No body recognized"

var (
	// Neutral is the label color for correct posture
	Neutral = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	// Alert is the label color for postures needing correction
	Alert = color.RGBA{R: 255, G: 59, B: 48, A: 255}
	// Muted is the label color when no body is recognized
	Muted = color.RGBA{R: 142, G: 142, B: 147, A: 255}
)

// Status is the user visible state derived from a stable label
type Status struct {
	Label    string    `json:"label"`
	Display  string    `json:"display"`
	Category Category  `json:"category"`
	Color    string    `json:"color"`
	Session  string    `json:"session,omitempty"`
	State    string    `json:"state"`
	Elapsed  string    `json:"elapsed"`
	At       time.Time `json:"at"`

	rgba color.RGBA
}

// RGBA returns the status color for drawing
func (s Status) RGBA() color.RGBA {
	return s.rgba
}

// StatusFor maps a label to its presentation
func StatusFor(label classify.Label) Status {

	s := Status{
		Label:   string(label),
		Display: DisplayText(label),
	}

	switch {
	case !label.Known():
		s.Category = CategoryNoBody
		s.rgba = Muted
	case label == classify.Correct:
		s.Category = CategoryCorrect
		s.rgba = Neutral
	default:
		s.Category = CategoryIncorrect
		s.rgba = Alert
	}

	s.Color = hexColor(s.rgba)

	return s
}

// Phrase returns the text spoken for a label, the incorrect prefix is
// dropped so "incorrect_head_down" is spoken as "head down"
func Phrase(label classify.Label) string {

	if !label.Known() {
		return ""
	}

	return words(label)
}

// DisplayText returns the on screen text for a label, for example
// "Incorrect: Head Down"
func DisplayText(label classify.Label) string {

	if !label.Known() {
		return NoBodyText
	}

	text := titleCase(words(label))

	if label.Incorrect() {
		return "Incorrect: " + text
	}

	return text
}

func words(label classify.Label) string {
	s := strings.TrimPrefix(string(label), classify.IncorrectPrefix)
	return strings.ReplaceAll(s, "_", " ")
}

func titleCase(s string) string {

	parts := strings.Fields(s)

	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}

	return strings.Join(parts, " ")
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
