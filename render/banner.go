package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/swdee/go-posturecoach/feedback"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultBannerSize is the font size of the status banner in points
const DefaultBannerSize = 28

// Banner draws the status strip across the top of a frame: the posture
// label in its status color on the left, the session state and stopwatch
// on the right
type Banner struct {
	face    font.Face
	height  int
	padding int
}

// NewBanner returns a Banner using the Go regular font at size points
func NewBanner(size float64) (*Banner, error) {

	f, err := opentype.Parse(goregular.TTF)

	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create type face: %w", err)
	}

	m := face.Metrics()
	padding := int(size / 3)

	return &Banner{
		face:    face,
		height:  (m.Ascent + m.Descent).Ceil() + 2*padding,
		padding: padding,
	}, nil
}

// Height returns the banner height in pixels
func (b *Banner) Height() int {
	return b.height
}

// Close releases the type face
func (b *Banner) Close() error {
	return b.face.Close()
}

// Text returns the left and right banner text for a status
func Text(st feedback.Status) (left, right string) {

	left = st.Display
	right = st.State

	if st.Elapsed != "" {
		right = st.State + "  " + st.Elapsed
	}

	return left, right
}

// Draw paints the banner onto the top of a BGR image
func (b *Banner) Draw(img *gocv.Mat, st feedback.Status) error {

	w := img.Cols()
	h := b.height

	if h > img.Rows() {
		h = img.Rows()
	}

	strip := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(strip, strip.Bounds(), image.NewUniform(bannerBackground), image.Point{}, draw.Src)

	left, right := Text(st)
	baseline := b.padding + b.face.Metrics().Ascent.Ceil()

	b.drawString(strip, left, b.padding, baseline, st.RGBA())

	rw := font.MeasureString(b.face, right).Ceil()
	b.drawString(strip, right, w-rw-b.padding, baseline, White)

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, strip.Pix)

	if err != nil || mat.Empty() {
		return fmt.Errorf("error creating Mat from banner image: %v", err)
	}

	defer mat.Close()

	region := img.Region(image.Rect(0, 0, w, h))
	defer region.Close()

	gocv.CvtColor(mat, &region, gocv.ColorRGBAToBGR)

	return nil
}

func (b *Banner) drawString(dst draw.Image, text string, x, y int, clr color.RGBA) {

	dr := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(clr),
		Face: b.face,
		Dot: fixed.Point26_6{
			X: fixed.I(x),
			Y: fixed.I(y),
		},
	}

	dr.DrawString(text)
}
