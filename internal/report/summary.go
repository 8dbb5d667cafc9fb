package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SparseCoverage is the coverage below which a joint with data is reported as sparse.
const SparseCoverage = 0.5

type Status string

const (
	StatusUnavailable Status = "unavailable"
	StatusSparse      Status = "sparse"
	StatusAvailable   Status = "available"
)

// JointSummary describes how often a joint was measured and the spread of its values.
// The value fields are zero when Samples is zero.
type JointSummary struct {
	Joint    angles.JointName
	Status   Status
	Samples  int
	Coverage float64
	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
}

// Series returns the present values of j in time order.
func Series(snaps []snapshot.Snapshot, j angles.JointName) []float64 {
	var out []float64
	for _, s := range snaps {
		if v, ok := s.Angle(j); ok {
			out = append(out, v)
		}
	}
	return out
}

// Summarize reports every joint in canonical order. A joint never measured is
// unavailable, which is distinct from one measured only occasionally.
func Summarize(snaps []snapshot.Snapshot) []JointSummary {
	out := make([]JointSummary, 0, len(angles.AllJoints()))
	for _, j := range angles.AllJoints() {
		vals := Series(snaps, j)
		js := JointSummary{Joint: j, Samples: len(vals), Status: StatusUnavailable}
		if len(snaps) > 0 {
			js.Coverage = float64(len(vals)) / float64(len(snaps))
		}
		if len(vals) > 0 {
			js.Status = StatusAvailable
			if js.Coverage < SparseCoverage {
				js.Status = StatusSparse
			}
			js.Min = floats.Min(vals)
			js.Max = floats.Max(vals)
			if len(vals) > 1 {
				js.Mean, js.StdDev = stat.MeanStdDev(vals, nil)
			} else {
				js.Mean = vals[0]
			}
		}
		out = append(out, js)
	}
	return out
}

// Unavailable lists the joints with no data at all.
func Unavailable(snaps []snapshot.Snapshot) []angles.JointName {
	var out []angles.JointName
	for _, js := range Summarize(snaps) {
		if js.Status == StatusUnavailable {
			out = append(out, js.Joint)
		}
	}
	return out
}

// WriteSummary prints availability and statistics per joint.
func WriteSummary(w io.Writer, snaps []snapshot.Snapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, NoDataMessage)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "JOINT\tSTATUS\tSAMPLES\tCOVERAGE\tMIN\tMAX\tMEAN\tSTD")
	fmt.Fprintln(tw, "-----\t------\t-------\t--------\t---\t---\t----\t---")
	for _, js := range Summarize(snaps) {
		if js.Samples == 0 {
			fmt.Fprintf(tw, "%s\t%s\t0\t0%%\t-\t-\t-\t-\n", js.Joint, js.Status)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f%%\t%.1f\t%.1f\t%.1f\t%.1f\n",
			js.Joint, js.Status, js.Samples, js.Coverage*100, js.Min, js.Max, js.Mean, js.StdDev)
	}
	return tw.Flush()
}
