// Package npuclassifier classifies keypoint windows with a posture model
// compiled for the Rockchip NPU.  The model takes a single float32 input of
// shape [frames, 3, 18] and returns one score per label in the order of its
// labels file.
package npuclassifier

import (
	"context"
	"fmt"

	"github.com/swdee/go-posturecoach/classify"
	"github.com/swdee/go-posturecoach/keypoint"
	"github.com/swdee/go-posturecoach/npu"
	"github.com/swdee/go-posturecoach/window"
)

// normTolerance is how far a score sum may drift from 1 and still be used as
// probabilities without a softmax
const normTolerance = 1e-3

// Classifier runs a window model on a pool of NPU runtimes
type Classifier struct {
	pool   *npu.Pool
	labels []classify.Label
	frames int
}

// New returns a Classifier for windows of the given number of frames.  The
// model's input and output tensors are checked against the window size and
// label count, a mismatch returns an error wrapping classify.ErrShape.
func New(pool *npu.Pool, labels []string, frames int) (*Classifier, error) {

	inputs, outputs, err := pool.Attrs(context.Background())

	if err != nil {
		return nil, err
	}

	if err := checkShape(inputs, outputs, len(labels), frames); err != nil {
		return nil, err
	}

	c := &Classifier{
		pool:   pool,
		labels: make([]classify.Label, len(labels)),
		frames: frames,
	}

	for i, name := range labels {
		// labels the app has no use for keep their score slot but map to
		// nothing
		c.labels[i], _ = classify.ParseLabel(name)
	}

	return c, nil
}

// Load creates the runtime pool and reads the labels file
func Load(modelFile, labelsFile string, frames, poolSize int, cores []npu.CoreMask) (*Classifier, *npu.Pool, error) {

	labels, err := npu.LoadLabels(labelsFile)

	if err != nil {
		return nil, nil, err
	}

	pool, err := npu.NewPool(poolSize, modelFile, cores)

	if err != nil {
		return nil, nil, fmt.Errorf("error loading classifier model: %w", err)
	}

	c, err := New(pool, labels, frames)

	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	return c, pool, nil
}

func checkShape(inputs, outputs []npu.TensorAttr, nLabels, frames int) error {

	if len(inputs) != 1 || len(outputs) < 1 {
		return fmt.Errorf("%w: model has %d inputs and %d outputs", classify.ErrShape, len(inputs), len(outputs))
	}

	want := frames * keypoint.Channels * keypoint.JointCount

	if int(inputs[0].NElems) != want {
		return fmt.Errorf("%w: model input %v holds %d values, window of %d frames needs %d",
			classify.ErrShape, inputs[0].Shape(), inputs[0].NElems, frames, want)
	}

	if int(outputs[0].NElems) != nLabels {
		return fmt.Errorf("%w: model output has %d scores for %d labels",
			classify.ErrShape, outputs[0].NElems, nLabels)
	}

	return nil
}

// Classify runs the model on the snapshot
func (c *Classifier) Classify(ctx context.Context, snap window.Snapshot) (classify.Result, error) {

	if snap.Len() != c.frames {
		return classify.Result{}, fmt.Errorf("%w: snapshot has %d frames, model expects %d",
			classify.ErrShape, snap.Len(), c.frames)
	}

	rt, err := c.pool.Get(ctx)

	if err != nil {
		return classify.Result{}, err
	}

	defer c.pool.Put(rt)

	rt.SetWantFloat(true)

	outs, err := rt.InferFloat32(snap.Tensor())

	if err != nil {
		return classify.Result{}, fmt.Errorf("window inference failed: %w", err)
	}

	defer outs.Free()

	out := outs.Output[0]
	raw := out.Float

	if raw == nil {
		raw = make([]float32, len(out.Int))

		for i, q := range out.Int {
			raw[i] = (float32(q) - float32(out.Attr.ZP)) * out.Attr.Scale
		}
	}

	return c.result(raw), nil
}

// result converts raw model scores into a Result, raw is not retained
func (c *Classifier) result(raw []float32) classify.Result {

	scores := make([]float64, len(raw))

	for i, v := range raw {
		scores[i] = float64(v)
	}

	if !classify.Normalized(scores, normTolerance) {
		scores = classify.Softmax(raw)
	}

	return classify.NewResultFromScores(c.labels, scores)
}
