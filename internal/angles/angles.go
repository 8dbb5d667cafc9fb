// Package angles turns detector keypoints into joint angles.
package angles

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// JointName identifies one tracked joint angle.
type JointName string

const (
	LeftElbow  JointName = "leftElbow"
	RightElbow JointName = "rightElbow"
	LeftWrist  JointName = "leftWrist"
	RightWrist JointName = "rightWrist"
	LeftKnee   JointName = "leftKnee"
	RightKnee  JointName = "rightKnee"
	Neck       JointName = "neck"
	Back       JointName = "back"
)

// MinConfidence is the lowest keypoint score accepted for an angle.
const MinConfidence = 0.3

// NumKeypoints is the size of the detector's keypoint schema.
const NumKeypoints = 17

// ErrSchema is returned when detector output does not match the keypoint schema.
var ErrSchema = errors.New("keypoint schema mismatch")

var allJoints = [...]JointName{
	LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftKnee, RightKnee, Neck, Back,
}

// keypointNames is the detector's output order (COCO-17, as produced by MoveNet).
var keypointNames = [NumKeypoints]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

// triplets maps a joint to its (a, vertex, c) keypoints.
// Wrists have no third reference point in this schema and stay absent.
var triplets = map[JointName][3]string{
	LeftElbow:  {"leftShoulder", "leftElbow", "leftWrist"},
	RightElbow: {"rightShoulder", "rightElbow", "rightWrist"},
	LeftKnee:   {"leftHip", "leftKnee", "leftAnkle"},
	RightKnee:  {"rightHip", "rightKnee", "rightAnkle"},
	Neck:       {"leftShoulder", "nose", "rightShoulder"},
	Back:       {"leftShoulder", "leftHip", "leftKnee"},
}

// AllJoints returns every tracked joint in display order.
func AllJoints() []JointName {
	out := make([]JointName, len(allJoints))
	copy(out, allJoints[:])
	return out
}

// KeypointNames returns the keypoint schema in detector order.
func KeypointNames() []string {
	out := make([]string, NumKeypoints)
	copy(out, keypointNames[:])
	return out
}

// ParseJoint resolves a joint by name.
func ParseJoint(s string) (JointName, error) {
	for _, j := range allJoints {
		if string(j) == s {
			return j, nil
		}
	}
	return "", fmt.Errorf("unknown joint %q", s)
}

// Keypoint is one detected landmark. Score is the detector confidence in [0,1].
type Keypoint struct {
	Name  string
	X     float64
	Y     float64
	Score float64
}

// Angles holds one reading per joint. Joints without a reliable reading are absent.
type Angles map[JointName]float64

// Get returns the angle for j and whether it is present.
func (a Angles) Get(j JointName) (float64, bool) {
	v, ok := a[j]
	return v, ok
}

// minMagnitude guards the vertex against coincident points.
const minMagnitude = 1e-9

// Angle returns the angle at vertex b, in degrees within [0, 180].
// It reports false when any score is below MinConfidence or the vectors are degenerate.
func Angle(a, b, c Keypoint) (float64, bool) {
	// Written as !(>=) so NaN scores are rejected too.
	if !(a.Score >= MinConfidence) || !(b.Score >= MinConfidence) || !(c.Score >= MinConfidence) {
		return 0, false
	}

	vb := r2.Vec{X: b.X, Y: b.Y}
	ab := r2.Sub(r2.Vec{X: a.X, Y: a.Y}, vb)
	cb := r2.Sub(r2.Vec{X: c.X, Y: c.Y}, vb)

	magAB, magCB := r2.Norm(ab), r2.Norm(cb)
	if !(magAB > minMagnitude) || !(magCB > minMagnitude) {
		return 0, false
	}

	cos := r2.Dot(ab, cb) / (magAB * magCB)
	// Rounding can push collinear inputs just outside acos's domain.
	cos = math.Max(-1, math.Min(1, cos))

	deg := math.Acos(cos) * 180 / math.Pi
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0, false
	}
	return deg, true
}

// Extract computes every tracked joint angle from one pose.
// kps must follow KeypointNames order; unnamed keypoints are named by position.
func Extract(kps []Keypoint) (Angles, error) {
	if len(kps) != NumKeypoints {
		return nil, fmt.Errorf("%w: got %d keypoints, want %d", ErrSchema, len(kps), NumKeypoints)
	}

	byName := make(map[string]Keypoint, NumKeypoints)
	for i, kp := range kps {
		want := keypointNames[i]
		if kp.Name != "" && kp.Name != want {
			return nil, fmt.Errorf("%w: keypoint %d is %q, want %q", ErrSchema, i, kp.Name, want)
		}
		kp.Name = want
		byName[want] = kp
	}

	out := make(Angles, len(allJoints))
	for _, j := range allJoints {
		tr, ok := triplets[j]
		if !ok {
			continue
		}
		if deg, ok := Angle(byName[tr[0]], byName[tr[1]], byName[tr[2]]); ok {
			out[j] = deg
		}
	}
	return out, nil
}
