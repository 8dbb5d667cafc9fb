package angles

import (
	"errors"
	"math"
	"testing"
)

func kp(x, y, score float64) Keypoint {
	return Keypoint{X: x, Y: y, Score: score}
}

func TestAngle(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c Keypoint
		want    float64
		wantOK  bool
	}{
		{
			name:   "Collinear points",
			a:      kp(0, 0, 0.9),
			b:      kp(1, 0, 0.9),
			c:      kp(2, 0, 0.9),
			want:   180,
			wantOK: true,
		},
		{
			name:   "Right angle",
			a:      kp(0, 1, 0.9),
			b:      kp(0, 0, 0.9),
			c:      kp(1, 0, 0.9),
			want:   90,
			wantOK: true,
		},
		{
			name:   "Same direction",
			a:      kp(2, 0, 0.9),
			b:      kp(0, 0, 0.9),
			c:      kp(5, 0, 0.9),
			want:   0,
			wantOK: true,
		},
		{
			name:   "Forty five degrees",
			a:      kp(1, 0, 0.5),
			b:      kp(0, 0, 0.5),
			c:      kp(3, 3, 0.5),
			want:   45,
			wantOK: true,
		},
		{
			name:   "Score exactly at threshold is accepted",
			a:      kp(0, 1, MinConfidence),
			b:      kp(0, 0, MinConfidence),
			c:      kp(1, 0, MinConfidence),
			want:   90,
			wantOK: true,
		},
		{
			name: "Low confidence on a",
			a:    kp(0, 1, 0.29),
			b:    kp(0, 0, 0.9),
			c:    kp(1, 0, 0.9),
		},
		{
			name: "Low confidence on vertex",
			a:    kp(0, 1, 0.9),
			b:    kp(0, 0, 0.1),
			c:    kp(1, 0, 0.9),
		},
		{
			name: "Low confidence on c",
			a:    kp(0, 1, 0.9),
			b:    kp(0, 0, 0.9),
			c:    kp(1, 0, 0),
		},
		{
			name: "NaN score",
			a:    kp(0, 1, math.NaN()),
			b:    kp(0, 0, 0.9),
			c:    kp(1, 0, 0.9),
		},
		{
			name: "a coincides with vertex",
			a:    kp(3, 3, 0.9),
			b:    kp(3, 3, 0.9),
			c:    kp(1, 0, 0.9),
		},
		{
			name: "c coincides with vertex",
			a:    kp(0, 1, 0.9),
			b:    kp(4, 4, 0.9),
			c:    kp(4, 4, 0.9),
		},
		{
			name: "NaN coordinate",
			a:    kp(math.NaN(), 1, 0.9),
			b:    kp(0, 0, 0.9),
			c:    kp(1, 0, 0.9),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Angle(tt.a, tt.b, tt.c)
			if ok != tt.wantOK {
				t.Fatalf("Angle() ok = %v, want %v (value %v)", ok, tt.wantOK, got)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Angle() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAngleConfidenceGating(t *testing.T) {
	coords := [][3][2]float64{
		{{0, 0}, {1, 1}, {2, 0}},
		{{10, 5}, {3, 3}, {-4, 8}},
		{{0, 1}, {0, 0}, {1, 0}},
	}
	for _, c := range coords {
		for _, low := range []int{0, 1, 2} {
			pts := [3]Keypoint{}
			for i := range pts {
				pts[i] = kp(c[i][0], c[i][1], 0.95)
			}
			pts[low].Score = 0.2999
			if _, ok := Angle(pts[0], pts[1], pts[2]); ok {
				t.Errorf("expected absent angle with low score at %d for %v", low, c)
			}
		}
	}
}

func TestAngleRange(t *testing.T) {
	for i := 0; i < 360; i += 7 {
		rad := float64(i) * math.Pi / 180
		deg, ok := Angle(kp(1, 0, 1), kp(0, 0, 1), kp(math.Cos(rad), math.Sin(rad), 1))
		if !ok {
			t.Fatalf("unexpected absent angle at %d°", i)
		}
		if deg < 0 || deg > 180 {
			t.Errorf("angle %v out of range for %d°", deg, i)
		}
	}
}

// standingPose builds a pose where every keypoint is confident.
func standingPose() []Keypoint {
	pos := map[string][2]float64{
		"nose":          {50, 10},
		"leftEye":       {48, 8},
		"rightEye":      {52, 8},
		"leftEar":       {46, 9},
		"rightEar":      {54, 9},
		"leftShoulder":  {40, 20},
		"rightShoulder": {60, 20},
		"leftElbow":     {40, 35},
		"rightElbow":    {60, 35},
		"leftWrist":     {40, 50},
		"rightWrist":    {75, 35},
		"leftHip":       {40, 50},
		"rightHip":      {60, 50},
		"leftKnee":      {40, 70},
		"rightKnee":     {60, 70},
		"leftAnkle":     {40, 90},
		"rightAnkle":    {60, 90},
	}
	out := make([]Keypoint, 0, NumKeypoints)
	for _, name := range KeypointNames() {
		p := pos[name]
		out = append(out, Keypoint{Name: name, X: p[0], Y: p[1], Score: 0.9})
	}
	return out
}

func TestExtract(t *testing.T) {
	got, err := Extract(standingPose())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := map[JointName]float64{
		LeftElbow:  180,
		RightElbow: 90,
		LeftKnee:   180,
		RightKnee:  180,
		Back:       180,
	}
	for j, deg := range want {
		v, ok := got.Get(j)
		if !ok {
			t.Errorf("%s missing", j)
			continue
		}
		if math.Abs(v-deg) > 1e-6 {
			t.Errorf("%s = %v, want %v", j, v, deg)
		}
	}

	if _, ok := got.Get(Neck); !ok {
		t.Error("neck missing")
	}
	for _, j := range []JointName{LeftWrist, RightWrist} {
		if _, ok := got.Get(j); ok {
			t.Errorf("%s should always be absent", j)
		}
	}
}

func TestExtractLowConfidenceIsolated(t *testing.T) {
	pose := standingPose()
	// leftAnkle only feeds the left knee.
	pose[15].Score = 0.1

	got, err := Extract(pose)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := got.Get(LeftKnee); ok {
		t.Error("leftKnee should be absent")
	}
	for _, j := range []JointName{RightKnee, LeftElbow, RightElbow, Neck, Back} {
		if _, ok := got.Get(j); !ok {
			t.Errorf("%s should still be present", j)
		}
	}
}

func TestExtractUnnamedKeypoints(t *testing.T) {
	pose := standingPose()
	for i := range pose {
		pose[i].Name = ""
	}
	got, err := Extract(pose)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, ok := got.Get(LeftElbow); !ok {
		t.Error("leftElbow missing for positional keypoints")
	}
}

func TestExtractSchema(t *testing.T) {
	short := standingPose()[:16]
	if _, err := Extract(short); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema for short pose, got %v", err)
	}

	swapped := standingPose()
	swapped[5], swapped[6] = swapped[6], swapped[5]
	if _, err := Extract(swapped); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema for out-of-order pose, got %v", err)
	}
}

func TestParseJoint(t *testing.T) {
	for _, j := range AllJoints() {
		got, err := ParseJoint(string(j))
		if err != nil || got != j {
			t.Errorf("ParseJoint(%q) = %v, %v", j, got, err)
		}
	}
	if _, err := ParseJoint("tail"); err == nil {
		t.Error("expected error for unknown joint")
	}
}

func TestAllJointsIsACopy(t *testing.T) {
	j := AllJoints()
	j[0] = "mutated"
	if AllJoints()[0] != LeftElbow {
		t.Error("AllJoints exposed internal state")
	}
}
