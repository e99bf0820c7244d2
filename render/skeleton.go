// Package render draws the coaching overlay onto camera frames: the body
// skeleton, the recent path of a joint, and the status banner.
package render

import (
	"image"
	"image/color"

	"github.com/swdee/go-posturecoach/keypoint"
	"gocv.io/x/gocv"
)

// limb is a line drawn between two joints
type limb struct {
	from, to keypoint.Joint
	color    color.RGBA
}

// limbs defines the skeleton lines of the 18 joint layout
var limbs = []limb{
	{keypoint.Neck, keypoint.RightShoulder, torso},
	{keypoint.Neck, keypoint.LeftShoulder, torso},
	{keypoint.RightShoulder, keypoint.RightElbow, arms},
	{keypoint.RightElbow, keypoint.RightWrist, arms},
	{keypoint.LeftShoulder, keypoint.LeftElbow, arms},
	{keypoint.LeftElbow, keypoint.LeftWrist, arms},
	{keypoint.Neck, keypoint.RightHip, torso},
	{keypoint.RightHip, keypoint.RightKnee, legs},
	{keypoint.RightKnee, keypoint.RightAnkle, legs},
	{keypoint.Neck, keypoint.LeftHip, torso},
	{keypoint.LeftHip, keypoint.LeftKnee, legs},
	{keypoint.LeftKnee, keypoint.LeftAnkle, legs},
	{keypoint.Neck, keypoint.Nose, head},
	{keypoint.Nose, keypoint.RightEye, head},
	{keypoint.RightEye, keypoint.RightEar, head},
	{keypoint.Nose, keypoint.LeftEye, head},
	{keypoint.LeftEye, keypoint.LeftEar, head},
}

// SkeletonStyle defines how the skeleton is drawn
type SkeletonStyle struct {
	LineThickness int
	JointRadius   int
}

// DefaultSkeletonStyle returns default skeleton style settings
func DefaultSkeletonStyle() SkeletonStyle {
	return SkeletonStyle{
		LineThickness: 2,
		JointRadius:   4,
	}
}

// ToPixel converts a normalized keypoint, origin bottom left, into pixel
// coordinates of a width x height image
func ToPixel(k keypoint.Keypoint, width, height int) image.Point {
	return image.Pt(int(k.X*float32(width)), int((1-k.Y)*float32(height)))
}

// Skeleton draws the frame's detected joints and the limbs between them.
// Missing joints and limbs touching them are skipped.
func Skeleton(img *gocv.Mat, f keypoint.Frame, style SkeletonStyle) {

	w, h := img.Cols(), img.Rows()

	for _, l := range limbs {
		a, b := f.At(l.from), f.At(l.to)

		if !a.Detected() || !b.Detected() {
			continue
		}

		gocv.Line(img, ToPixel(a, w, h), ToPixel(b, w, h), l.color, style.LineThickness)
	}

	for _, k := range f.Points() {
		if !k.Detected() {
			continue
		}

		gocv.Circle(img, ToPixel(k, w, h), style.JointRadius, jointColors[k.Joint], -1)
	}
}
