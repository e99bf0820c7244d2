package yolov8pose

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Letterbox scales a camera image into the model's input tensor keeping its
// aspect ratio, padding the remainder with a solid colour
type Letterbox struct {
	srcWidth  int
	srcHeight int
	dstWidth  int
	dstHeight int
	// scaled image before padding
	tmp gocv.Mat
	// scaling parameters
	xPad    int
	yPad    int
	scale   float32
	resizeW int
	resizeH int
}

// NewLetterbox returns a Letterbox for srcWidth x srcHeight images going into
// a dstWidth x dstHeight tensor
func NewLetterbox(srcWidth, srcHeight, dstWidth, dstHeight int) *Letterbox {

	l := &Letterbox{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		tmp:       gocv.NewMat(),
	}

	l.resizeW = dstWidth
	l.resizeH = dstHeight

	scaleW := float32(dstWidth) / float32(srcWidth)
	scaleH := float32(dstHeight) / float32(srcHeight)
	l.scale = scaleH

	if scaleW < scaleH {
		l.scale = scaleW
		l.resizeH = int(float32(srcHeight) * l.scale)
	} else {
		l.resizeW = int(float32(srcWidth) * l.scale)
	}

	l.yPad = (dstHeight - l.resizeH) / 2
	l.xPad = (dstWidth - l.resizeW) / 2

	return l
}

// Fits reports if the letterbox was built for images of this size
func (l *Letterbox) Fits(width, height int) bool {
	return l.srcWidth == width && l.srcHeight == height
}

// Resize scales src into dst padding with pad
func (l *Letterbox) Resize(src gocv.Mat, dst *gocv.Mat, pad color.RGBA) {

	gocv.Resize(src, &l.tmp, image.Pt(l.resizeW, l.resizeH), 0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(l.tmp, dst, l.yPad, l.dstHeight-l.resizeH-l.yPad,
		l.xPad, l.dstWidth-l.resizeW-l.xPad, gocv.BorderConstant, pad)
}

// Unmap converts a point in tensor coordinates back to source pixels
func (l *Letterbox) Unmap(x, y float32) (int, int) {
	return int((x - float32(l.xPad)) / l.scale), int((y - float32(l.yPad)) / l.scale)
}

// Scale returns the scale factor applied to the source image
func (l *Letterbox) Scale() float32 {
	return l.scale
}

// XPad returns the horizontal padding
func (l *Letterbox) XPad() int {
	return l.xPad
}

// YPad returns the vertical padding
func (l *Letterbox) YPad() int {
	return l.yPad
}

// Close frees the scaling buffer
func (l *Letterbox) Close() error {
	return l.tmp.Close()
}
