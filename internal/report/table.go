// Package report turns a series of angle snapshots into tables, summaries, charts and
// export files. Absent values are never zero-filled or interpolated.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
)

// NoDataMessage is printed instead of an empty table.
const NoDataMessage = "No data available for the table."

// MaxAngle is the largest angle seen for a joint and when it first occurred.
type MaxAngle struct {
	Joint angles.JointName
	Angle float64
	Time  float64
}

// MaxAngles returns, for each joint with data, its maximum angle. Ties keep the earliest
// snapshot. Results follow the canonical joint order.
func MaxAngles(snaps []snapshot.Snapshot) []MaxAngle {
	best := make(map[angles.JointName]MaxAngle)
	for _, s := range snaps {
		for _, j := range angles.AllJoints() {
			v, ok := s.Angle(j)
			if !ok {
				continue
			}
			if cur, seen := best[j]; !seen || v > cur.Angle {
				best[j] = MaxAngle{Joint: j, Angle: v, Time: s.Time()}
			}
		}
	}

	out := make([]MaxAngle, 0, len(best))
	for _, j := range angles.AllJoints() {
		if m, ok := best[j]; ok {
			out = append(out, m)
		}
	}
	return out
}

// WriteMaxTable prints the maximum angle per joint.
func WriteMaxTable(w io.Writer, snaps []snapshot.Snapshot) error {
	maxes := MaxAngles(snaps)
	if len(snaps) == 0 || len(maxes) == 0 {
		_, err := fmt.Fprintln(w, NoDataMessage)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "JOINT\tMAX ANGLE (°)\tTIME (s)")
	fmt.Fprintln(tw, "-----\t-------------\t--------")
	for _, m := range maxes {
		fmt.Fprintf(tw, "%s\t%.1f\t%.2f\n", m.Joint, m.Angle, m.Time)
	}
	return tw.Flush()
}
