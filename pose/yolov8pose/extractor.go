// Package yolov8pose extracts body keypoints with a YOLOv8 pose model run on
// the Rockchip NPU.  The most confident person in each image is returned as
// a COCO skeleton mapped onto the coaching joint layout.
package yolov8pose

import (
	"context"
	"fmt"
	"image/color"

	"github.com/swdee/go-posturecoach/keypoint"
	"github.com/swdee/go-posturecoach/npu"
	"github.com/swdee/go-posturecoach/pose"
	"gocv.io/x/gocv"
)

// Config configures an Extractor
type Config struct {
	Params Params
	// MinScore is the keypoint score below which a joint counts as missing
	MinScore float32
	// Quantized keeps the detection heads in int8 instead of asking the
	// driver to dequantize them
	Quantized bool
	// Pad is the letterbox padding colour
	Pad color.RGBA
}

// DefaultConfig returns the configuration for the stock COCO pose model
func DefaultConfig() Config {
	return Config{
		Params:    COCOParams(),
		MinScore:  0.3,
		Quantized: true,
		Pad:       color.RGBA{R: 114, G: 114, B: 114, A: 255},
	}
}

// Extractor runs pose inference on a pool of NPU runtimes
type Extractor struct {
	pool *npu.Pool
	dec  *Decoder
	cfg  Config
}

// New returns an Extractor using runtimes from pool
func New(pool *npu.Pool, cfg Config) *Extractor {
	return &Extractor{
		pool: pool,
		dec:  NewDecoder(cfg.Params),
		cfg:  cfg,
	}
}

// Detect returns the keypoints of the most confident person in the BGR image
func (e *Extractor) Detect(ctx context.Context, img gocv.Mat) ([]keypoint.Keypoint, error) {

	if img.Empty() {
		return nil, pose.ErrSourceImage
	}

	rt, err := e.pool.Get(ctx)

	if err != nil {
		return nil, err
	}

	defer e.pool.Put(rt)

	size := rt.ImageInputSize()

	rgb := gocv.NewMat()
	defer rgb.Close()

	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)

	lb := NewLetterbox(img.Cols(), img.Rows(), size.Width, size.Height)
	defer lb.Close()

	in := gocv.NewMat()
	defer in.Close()

	lb.Resize(rgb, &in, e.cfg.Pad)

	rt.SetWantFloat(!e.cfg.Quantized)

	outs, err := rt.InferImage(in)

	if err != nil {
		return nil, fmt.Errorf("pose inference failed: %w", err)
	}

	defer outs.Free()

	t, err := tensorsFrom(outs, size)

	if err != nil {
		return nil, err
	}

	person, ok := e.dec.Best(t)

	if !ok {
		return nil, pose.ErrNoDetection
	}

	points := make([]keypoint.COCOPoint, len(person.KeyPoints))

	for i, kp := range person.KeyPoints {
		x, y := lb.Unmap(kp.X, kp.Y)
		points[i] = keypoint.COCOPoint{X: x, Y: y, Score: kp.Score}
	}

	frame := keypoint.FromCOCO(points, img.Cols(), img.Rows(), e.cfg.MinScore)

	return frame.Points(), nil
}

// tensorsFrom maps the four model outputs onto the decoder's tensors
func tensorsFrom(outs *npu.Outputs, size npu.InputSize) (Tensors, error) {

	if len(outs.Output) < 4 {
		return Tensors{}, fmt.Errorf("pose model has %d outputs, expected 4", len(outs.Output))
	}

	t := Tensors{
		Heads:  make([]Head, 3),
		Width:  size.Width,
		Height: size.Height,
	}

	for i := 0; i < 3; i++ {
		o := outs.Output[i]

		t.Heads[i] = Head{
			Quant: o.Int,
			Float: o.Float,
			ZP:    o.Attr.ZP,
			Scale: o.Attr.Scale,
			GridH: int(o.Attr.Dims[2]),
			GridW: int(o.Attr.Dims[3]),
		}
	}

	kp := outs.Output[3]
	t.KeyPoints = kp.Float

	if t.KeyPoints == nil {
		t.KeyPoints = make([]float32, len(kp.Int))

		for i, q := range kp.Int {
			t.KeyPoints[i] = deqnt(q, kp.Attr.ZP, kp.Attr.Scale)
		}
	}

	return t, nil
}
