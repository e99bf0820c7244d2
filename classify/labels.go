package classify

import "strings"

// Label is a posture class name from the closed vocabulary
type Label string

const (
	Correct          Label = "correct"
	HeadDown         Label = "incorrect_head_down"
	HeadUp           Label = "incorrect_head_up"
	ShouldersForward Label = "incorrect_shoulders_forward"
	ShouldersBack    Label = "incorrect_shoulders_back"
	Static           Label = "static"
	PaceFast         Label = "incorrect_pace_fast"
	PaceSlow         Label = "incorrect_pace_slow"
	// Unknown is the "no body / unknown" sentinel, it is never part of a model
	// output
	Unknown Label = ""
)

// IncorrectPrefix marks labels that describe a posture fault
const IncorrectPrefix = "incorrect_"

// Vocabulary is the fixed label order.  Argmax ties resolve to the label that
// appears first.
var Vocabulary = [...]Label{
	Correct,
	HeadDown,
	HeadUp,
	ShouldersForward,
	ShouldersBack,
	Static,
	PaceFast,
	PaceSlow,
}

// vocabIndex maps a label name to its position in Vocabulary
var vocabIndex = func() map[Label]int {
	m := make(map[Label]int, len(Vocabulary))

	for i, l := range Vocabulary {
		m[l] = i
	}

	return m
}()

// ParseLabel returns the vocabulary label for name.  Surrounding space and
// case are ignored.  Unrecognised names return Unknown and false.
func ParseLabel(name string) (Label, bool) {

	l := Label(strings.ToLower(strings.TrimSpace(name)))

	if _, ok := vocabIndex[l]; !ok {
		return Unknown, false
	}

	return l, true
}

// Known reports if the label is part of the vocabulary
func (l Label) Known() bool {
	_, ok := vocabIndex[l]
	return ok
}

// Incorrect reports if the label describes a posture fault
func (l Label) Incorrect() bool {
	return strings.HasPrefix(string(l), IncorrectPrefix)
}

// String returns the label name, or "unknown" for the sentinel
func (l Label) String() string {
	if l == Unknown {
		return "unknown"
	}
	return string(l)
}
