package keypoint

// COCOPoint is a keypoint in source image pixels as produced by COCO trained
// pose models
type COCOPoint struct {
	X     int
	Y     int
	Score float32
}

// COCOCount is the number of keypoints in a COCO skeleton
const COCOCount = 17

// cocoToJoint maps each COCO skeleton index to its Joint.  COCO has no neck,
// it is derived from the shoulders.
var cocoToJoint = [COCOCount]Joint{
	Nose,
	LeftEye, RightEye,
	LeftEar, RightEar,
	LeftShoulder, RightShoulder,
	LeftElbow, RightElbow,
	LeftWrist, RightWrist,
	LeftHip, RightHip,
	LeftKnee, RightKnee,
	LeftAnkle, RightAnkle,
}

// FromCOCO converts a COCO skeleton in pixel coordinates of a width x height
// image into a Frame.  Coordinates are normalized to [0,1] with the origin at
// the bottom left corner, the convention the posture model was trained with.
// Points scoring below minScore are recorded as missing.  A skeleton of the
// wrong length produces a no body frame.
func FromCOCO(points []COCOPoint, width, height int, minScore float32) Frame {

	f := NoBody()

	if len(points) != COCOCount || width <= 0 || height <= 0 {
		return f
	}

	for i, p := range points {
		j := cocoToJoint[i]

		if p.Score < minScore || p.Score <= 0 {
			continue
		}

		f.points[j] = Keypoint{
			Joint:      j,
			X:          clamp01(float32(p.X) / float32(width)),
			Y:          clamp01(1 - float32(p.Y)/float32(height)),
			Confidence: p.Score,
		}
	}

	// neck is the midpoint of both shoulders when both are seen
	ls := f.points[LeftShoulder]
	rs := f.points[RightShoulder]

	if ls.Detected() && rs.Detected() {
		conf := ls.Confidence
		if rs.Confidence < conf {
			conf = rs.Confidence
		}

		f.points[Neck] = Keypoint{
			Joint:      Neck,
			X:          (ls.X + rs.X) / 2,
			Y:          (ls.Y + rs.Y) / 2,
			Confidence: conf,
		}
	}

	return f
}

func clamp01(v float32) float32 {

	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
