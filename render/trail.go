package render

import (
	"image"
	"image/color"

	"github.com/swdee/go-posturecoach/keypoint"
	"gocv.io/x/gocv"
)

// TrailStyle defines the parameters used for rendering a joint trail
type TrailStyle struct {
	Joint         keypoint.Joint
	LineColor     color.RGBA
	LineThickness int
	CircleColor   color.RGBA
	CircleRadius  int
}

// DefaultTrailStyle follows the neck, which shows pacing and head bobbing
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		Joint:         keypoint.Neck,
		LineColor:     Yellow,
		LineThickness: 1,
		CircleColor:   Pink,
		CircleRadius:  3,
	}
}

// Trail draws the path of one joint through frames, oldest first.  Frames
// where the joint is missing break the line.
func Trail(img *gocv.Mat, frames []keypoint.Frame, style TrailStyle) {

	w, h := img.Cols(), img.Rows()

	var prev image.Point
	havePrev := false

	for _, f := range frames {
		k := f.At(style.Joint)

		if !k.Detected() {
			havePrev = false
			continue
		}

		pt := ToPixel(k, w, h)

		if havePrev {
			gocv.Line(img, prev, pt, style.LineColor, style.LineThickness)
		}

		prev = pt
		havePrev = true
	}

	if havePrev {
		gocv.Circle(img, prev, style.CircleRadius, style.CircleColor, -1)
	}
}
