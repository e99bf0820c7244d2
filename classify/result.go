package classify

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Result is the probability distribution returned by one classification,
// tagged with the window snapshot that produced it
type Result struct {
	// Seq is the sequence number of the triggering window snapshot
	Seq uint64
	// CompletedAt is when the classifier returned
	CompletedAt time.Time
	// probs holds a probability per Vocabulary label
	probs []float64
	// top is the argmax label, computed once at construction
	top Label
}

// NewResult builds a Result from a label name to probability mapping.  Names
// outside the vocabulary are ignored.
func NewResult(probs map[string]float64) Result {

	p := make([]float64, len(Vocabulary))

	for name, prob := range probs {
		if l, ok := ParseLabel(name); ok {
			p[vocabIndex[l]] = prob
		}
	}

	return newResult(p)
}

// NewResultFromScores builds a Result from scores ordered by labels, as read
// from a model labels file.  Scores for labels outside the vocabulary are
// ignored.
func NewResultFromScores(labels []Label, scores []float64) Result {

	p := make([]float64, len(Vocabulary))

	for i, l := range labels {
		if i >= len(scores) {
			break
		}

		if idx, ok := vocabIndex[l]; ok {
			p[idx] = scores[i]
		}
	}

	return newResult(p)
}

func newResult(p []float64) Result {
	return Result{
		probs: p,
		top:   argmax(p),
	}
}

// argmax returns the most probable label.  floats.MaxIdx returns the first
// index holding the maximum so ties resolve in vocabulary order.  A
// distribution with no positive mass is Unknown.
func argmax(p []float64) Label {

	if len(p) == 0 {
		return Unknown
	}

	idx := floats.MaxIdx(p)

	if !(p[idx] > 0) {
		return Unknown
	}

	return Vocabulary[idx]
}

// Argmax returns the most probable label
func (r Result) Argmax() Label {
	return r.top
}

// Probability returns the probability of the label
func (r Result) Probability(l Label) float64 {

	idx, ok := vocabIndex[l]

	if !ok || r.probs == nil {
		return 0
	}

	return r.probs[idx]
}

// Probabilities returns the distribution as a label name to probability map
func (r Result) Probabilities() map[string]float64 {

	m := make(map[string]float64, len(Vocabulary))

	for i, l := range Vocabulary {
		if r.probs != nil {
			m[string(l)] = r.probs[i]
		}
	}

	return m
}

// Sum returns the total probability mass over the vocabulary, it should be
// close to 1
func (r Result) Sum() float64 {
	if r.probs == nil {
		return 0
	}
	return floats.Sum(r.probs)
}

// Softmax converts raw model scores into probabilities
func Softmax(logits []float32) []float64 {

	x := make([]float64, len(logits))

	for i, v := range logits {
		x[i] = float64(v)
	}

	if len(x) == 0 {
		return x
	}

	lse := floats.LogSumExp(x)

	for i := range x {
		x[i] = math.Exp(x[i] - lse)
	}

	return x
}

// Normalized reports if scores already form a probability distribution
func Normalized(scores []float64, tolerance float64) bool {

	for _, s := range scores {
		if s < 0 || s > 1 {
			return false
		}
	}

	return math.Abs(floats.Sum(scores)-1) <= tolerance
}
