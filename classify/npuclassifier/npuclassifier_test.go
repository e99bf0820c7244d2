package npuclassifier

import (
	"errors"
	"math"
	"testing"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/npu"
)

func attr(nelems uint32) npu.TensorAttr {
	return npu.TensorAttr{NDims: 1, NElems: nelems}
}

func TestCheckShape(t *testing.T) {

	tests := []struct {
		name    string
		inputs  []npu.TensorAttr
		outputs []npu.TensorAttr
		frames  int
		labels  int
		wantErr bool
	}{
		{"matching", []npu.TensorAttr{attr(60 * 54)}, []npu.TensorAttr{attr(6)}, 60, 6, false},
		{"window too short", []npu.TensorAttr{attr(60 * 54)}, []npu.TensorAttr{attr(6)}, 30, 6, true},
		{"label count", []npu.TensorAttr{attr(60 * 54)}, []npu.TensorAttr{attr(8)}, 60, 6, true},
		{"two inputs", []npu.TensorAttr{attr(1), attr(1)}, []npu.TensorAttr{attr(6)}, 60, 6, true},
	}

	for _, tc := range tests {
		err := checkShape(tc.inputs, tc.outputs, tc.labels, tc.frames)

		if tc.wantErr != (err != nil) {
			t.Errorf("%s: unexpected result %v", tc.name, err)
		}

		if err != nil && !errors.Is(err, classify.ErrShape) {
			t.Errorf("%s: expected ErrShape, got %v", tc.name, err)
		}
	}
}

func TestResultNormalizedScores(t *testing.T) {

	c := &Classifier{labels: []classify.Label{classify.Correct, classify.Unknown, classify.Static}}

	res := c.result([]float32{0.2, 0.1, 0.7})

	if res.Argmax() != classify.Static {
		t.Errorf("expected static, got %s", res.Argmax())
	}

	if p := res.Probability(classify.Correct); math.Abs(p-0.2) > 1e-6 {
		t.Errorf("expected probabilities passed through, got %f", p)
	}
}

func TestResultLogits(t *testing.T) {

	c := &Classifier{labels: []classify.Label{classify.Correct, classify.HeadDown}}

	res := c.result([]float32{4, -2})

	if res.Argmax() != classify.Correct {
		t.Errorf("expected correct, got %s", res.Argmax())
	}

	if math.Abs(res.Sum()-1) > 1e-9 {
		t.Errorf("expected softmax to sum to 1, got %f", res.Sum())
	}
}
