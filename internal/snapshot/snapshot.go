// Package snapshot holds time-stamped joint angle readings and the ordered buffer
// that collects them during playback.
package snapshot

import (
	"encoding/json"
	"math"

	"github.com/andresmejia3/jointscope/internal/angles"
)

// Precision is the number of decimals playback times are rounded to.
const Precision = 2

var precisionScale = math.Pow(10, Precision)

// RoundTime rounds a playback time so that time keys compare exactly.
func RoundTime(t float64) float64 {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return 0
	}
	return math.Round(t*precisionScale) / precisionScale
}

// Snapshot is one sampled instant. It is immutable once built.
type Snapshot struct {
	time   float64
	angles angles.Angles
}

// New builds a snapshot at playback time t. The angles map is copied.
func New(t float64, a angles.Angles) Snapshot {
	cp := make(angles.Angles, len(a))
	for j, v := range a {
		cp[j] = v
	}
	return Snapshot{time: RoundTime(t), angles: cp}
}

// Time returns the rounded playback time in seconds.
func (s Snapshot) Time() float64 { return s.time }

// Angle returns the reading for j and whether it is present.
func (s Snapshot) Angle(j angles.JointName) (float64, bool) {
	return s.angles.Get(j)
}

// Angles returns a copy of the present readings.
func (s Snapshot) Angles() angles.Angles {
	cp := make(angles.Angles, len(s.angles))
	for j, v := range s.angles {
		cp[j] = v
	}
	return cp
}

type snapshotJSON struct {
	Time   float64                       `json:"time"`
	Angles map[angles.JointName]*float64 `json:"angles"`
}

// MarshalJSON writes every tracked joint, with null for absent readings.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{Time: s.time, Angles: make(map[angles.JointName]*float64)}
	for _, j := range angles.AllJoints() {
		if v, ok := s.angles[j]; ok {
			out.Angles[j] = &v
		} else {
			out.Angles[j] = nil
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the format written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a := make(angles.Angles, len(in.Angles))
	for j, v := range in.Angles {
		if v != nil {
			a[j] = *v
		}
	}
	*s = New(in.Time, a)
	return nil
}
