package yolov8pose

import (
	"math"
)

// Params are the post processing parameters of a YOLOv8 pose model
type Params struct {
	// BoxThreshold is the minimum person confidence for a detection
	BoxThreshold float32
	// KeyPointsNumber is the number of keypoints per person
	KeyPointsNumber int
	// DFLLen is the number of distribution bins per box side
	DFLLen int
}

// COCOParams returns parameters for a model trained on the COCO keypoints
// dataset, a single person class with 17 keypoints
func COCOParams() Params {
	return Params{
		BoxThreshold:    0.5,
		KeyPointsNumber: 17,
		DFLLen:          16,
	}
}

// Head is one detection head output of shape [1, 4*DFLLen+1, GridH, GridW].
// Quantized models fill Quant, models run with float outputs fill Float.
type Head struct {
	Quant []int8
	Float []float32
	ZP    int32
	Scale float32
	GridH int
	GridW int
}

// value returns the dequantized value at offset i
func (h Head) value(i int) float32 {

	if h.Quant != nil {
		return deqnt(h.Quant[i], h.ZP, h.Scale)
	}

	return h.Float[i]
}

// Tensors are the model outputs needed to decode people
type Tensors struct {
	// Heads are the three stride outputs from finest to coarsest
	Heads []Head
	// KeyPoints is the keypoint output of shape [1, K, 3, anchors]
	KeyPoints []float32
	// Width and Height are the model input size in pixels
	Width  int
	Height int
}

// anchors returns the total grid cells over all heads
func (t Tensors) anchors() int {

	n := 0

	for _, h := range t.Heads {
		n += h.GridH * h.GridW
	}

	return n
}

// Point is a keypoint in model input pixels
type Point struct {
	X     float32
	Y     float32
	Score float32
}

// Person is a decoded detection in model input pixels
type Person struct {
	// Box is the bounding box as left, top, width, height
	Box       [4]float32
	Score     float32
	KeyPoints []Point
}

// Decoder turns raw model outputs into the most confident person
type Decoder struct {
	Params Params
}

// NewDecoder returns a Decoder
func NewDecoder(p Params) *Decoder {
	return &Decoder{Params: p}
}

// candidate is the best scoring grid cell found
type candidate struct {
	head   int
	h, w   int
	anchor int
	score  float32
}

// Best returns the person with the highest confidence above the threshold.
// Only one person is coached so overlapping detections need no suppression.
func (d *Decoder) Best(t Tensors) (Person, bool) {

	best, ok := d.scan(t)

	if !ok {
		return Person{}, false
	}

	anchors := t.anchors()

	if len(t.KeyPoints) < d.Params.KeyPointsNumber*3*anchors {
		return Person{}, false
	}

	p := Person{
		Box:       d.box(t, best),
		Score:     best.score,
		KeyPoints: make([]Point, d.Params.KeyPointsNumber),
	}

	for j := range p.KeyPoints {
		base := j * 3 * anchors

		p.KeyPoints[j] = Point{
			X:     t.KeyPoints[base+0*anchors+best.anchor],
			Y:     t.KeyPoints[base+1*anchors+best.anchor],
			Score: t.KeyPoints[base+2*anchors+best.anchor],
		}
	}

	return p, true
}

// scan finds the grid cell with the highest person confidence
func (d *Decoder) scan(t Tensors) (candidate, bool) {

	var best candidate
	found := false

	locLen := d.Params.DFLLen * 4
	index := 0

	for i, head := range t.Heads {
		area := head.GridH * head.GridW
		logit := unsigmoid(d.Params.BoxThreshold)
		thresI8 := qnt(logit, head.ZP, head.Scale)

		for h := 0; h < head.GridH; h++ {
			for w := 0; w < head.GridW; w++ {
				offset := locLen*area + h*head.GridW + w

				// compare in the tensor's own domain before paying for a sigmoid
				if head.Quant != nil {
					if head.Quant[offset] < thresI8 {
						continue
					}
				} else if head.Float[offset] < logit {
					continue
				}

				score := sigmoid(head.value(offset))

				if score < d.Params.BoxThreshold || (found && score <= best.score) {
					continue
				}

				best = candidate{
					head:   i,
					h:      h,
					w:      w,
					anchor: index + h*head.GridW + w,
					score:  score,
				}
				found = true
			}
		}

		index += area
	}

	return best, found
}

// box decodes the distribution focal loss bins of a cell into a box
func (d *Decoder) box(t Tensors, c candidate) [4]float32 {

	head := t.Heads[c.head]
	area := head.GridH * head.GridW
	dfl := d.Params.DFLLen
	stride := float32(t.Height) / float32(head.GridH)

	loc := make([]float32, dfl*4)

	for i := range loc {
		loc[i] = head.value(i*area + c.h*head.GridW + c.w)
	}

	var dist [4]float32

	for side := 0; side < 4; side++ {
		bins := loc[side*dfl : (side+1)*dfl]
		softmax(bins)

		for b, v := range bins {
			dist[side] += v * float32(b)
		}
	}

	x1 := (float32(c.w) + 0.5 - dist[0]) * stride
	y1 := (float32(c.h) + 0.5 - dist[1]) * stride
	x2 := (float32(c.w) + 0.5 + dist[2]) * stride
	y2 := (float32(c.h) + 0.5 + dist[3]) * stride

	return [4]float32{x1, y1, x2 - x1, y2 - y1}
}

// deqnt converts a quantized int8 value back to float32
func deqnt(q int8, zp int32, scale float32) float32 {
	return (float32(q) - float32(zp)) * scale
}

// qnt converts a float32 into the affine int8 domain
func qnt(f float32, zp int32, scale float32) int8 {

	if scale == 0 {
		return math.MinInt8
	}

	v := f/scale + float32(zp)

	switch {
	case v <= -128:
		return -128
	case v >= 127:
		return 127
	}

	return int8(v)
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}

func unsigmoid(y float32) float32 {
	return float32(-math.Log(1/float64(y) - 1))
}

// softmax normalizes v in place
func softmax(v []float32) {

	max := v[0]

	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}

	var sum float32

	for i, x := range v {
		v[i] = float32(math.Exp(float64(x - max)))
		sum += v[i]
	}

	for i := range v {
		v[i] /= sum
	}
}
