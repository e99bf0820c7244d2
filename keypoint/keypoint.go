// Package keypoint defines the per frame body keypoint layout consumed by the
// window buffer and the posture classifier.
package keypoint

import (
	"errors"
	"fmt"
)

/* joint order, the classifier input layout depends on it
0: Nose
1: Neck
2: Right Shoulder
3: Right Elbow
4: Right Wrist
5: Left Shoulder
6: Left Elbow
7: Left Wrist
8: Right Hip
9: Right Knee
10: Right Ankle
11: Left Hip
12: Left Knee
13: Left Ankle
14: Right Eye
15: Left Eye
16: Right Ear
17: Left Ear
*/

// Joint identifies a body joint
type Joint int

const (
	Nose Joint = iota
	Neck
	RightShoulder
	RightElbow
	RightWrist
	LeftShoulder
	LeftElbow
	LeftWrist
	RightHip
	RightKnee
	RightAnkle
	LeftHip
	LeftKnee
	LeftAnkle
	RightEye
	LeftEye
	RightEar
	LeftEar
)

// JointCount is the number of joints in every Frame
const JointCount = 18

// Channels is the number of values stored per joint: x, y, confidence
const Channels = 3

var jointNames = [JointCount]string{
	"nose", "neck",
	"right_shoulder", "right_elbow", "right_wrist",
	"left_shoulder", "left_elbow", "left_wrist",
	"right_hip", "right_knee", "right_ankle",
	"left_hip", "left_knee", "left_ankle",
	"right_eye", "left_eye", "right_ear", "left_ear",
}

// String returns the joint name
func (j Joint) String() string {
	if j < 0 || int(j) >= JointCount {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ErrInvalidFrame is returned when a frame is built from the wrong number of
// keypoints
var ErrInvalidFrame = errors.New("keypoint frame must have exactly 18 joints")

// Keypoint is a single joint position in normalized [0,1] frame coordinates
type Keypoint struct {
	Joint      Joint
	X          float32
	Y          float32
	Confidence float32
}

// Missing returns the zero confidence sentinel for the given joint
func Missing(j Joint) Keypoint {
	return Keypoint{Joint: j}
}

// Detected reports if the keypoint carries any confidence
func (k Keypoint) Detected() bool {
	return k.Confidence > 0
}

// Frame is the ordered set of joints for one camera frame.  It is an array
// value so copies never alias.
type Frame struct {
	points [JointCount]Keypoint
}

// NewFrame builds a Frame from keypoints given in joint order.  Each
// keypoint's Joint field is set from its position.
func NewFrame(points []Keypoint) (Frame, error) {

	if len(points) != JointCount {
		return Frame{}, fmt.Errorf("%w: got %d", ErrInvalidFrame, len(points))
	}

	var f Frame

	for i, p := range points {
		p.Joint = Joint(i)
		f.points[i] = p
	}

	return f, nil
}

// FromJoints builds a Frame from keypoints in any order, placing each by its
// Joint.  Joints not present are recorded as missing.  A joint outside the
// known set or given twice is an error.
func FromJoints(points []Keypoint) (Frame, error) {

	f := NoBody()
	var seen [JointCount]bool

	for _, p := range points {
		if p.Joint < 0 || int(p.Joint) >= JointCount {
			return Frame{}, fmt.Errorf("%w: unknown joint %d", ErrInvalidFrame, int(p.Joint))
		}

		if seen[p.Joint] {
			return Frame{}, fmt.Errorf("%w: duplicate joint %s", ErrInvalidFrame, p.Joint)
		}

		seen[p.Joint] = true
		f.points[p.Joint] = p
	}

	return f, nil
}

// NoBody returns a frame where every joint is missing
func NoBody() Frame {

	var f Frame

	for i := range f.points {
		f.points[i] = Missing(Joint(i))
	}

	return f
}

// At returns the keypoint for the joint
func (f Frame) At(j Joint) Keypoint {
	return f.points[j]
}

// Points returns a copy of the keypoints in joint order
func (f Frame) Points() []Keypoint {
	out := make([]Keypoint, JointCount)
	copy(out, f.points[:])
	return out
}

// HasBody reports if at least one joint was detected
func (f Frame) HasBody() bool {

	for _, p := range f.points {
		if p.Detected() {
			return true
		}
	}

	return false
}

// AppendValues appends the frame to dst in channel-major order, ie: all x
// values by joint, then all y values, then all confidences
func (f Frame) AppendValues(dst []float32) []float32 {

	for _, p := range f.points {
		dst = append(dst, p.X)
	}

	for _, p := range f.points {
		dst = append(dst, p.Y)
	}

	for _, p := range f.points {
		dst = append(dst, p.Confidence)
	}

	return dst
}
