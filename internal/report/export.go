package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
)

// WriteCSV writes one row per snapshot: time followed by every joint. Absent angles are
// empty cells.
func WriteCSV(w io.Writer, snaps []snapshot.Snapshot) error {
	joints := angles.AllJoints()
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(joints)+1)
	header = append(header, "time")
	for _, j := range joints {
		header = append(header, string(j))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(joints)+1)
	for _, s := range snaps {
		row[0] = strconv.FormatFloat(s.Time(), 'f', snapshot.Precision, 64)
		for i, j := range joints {
			row[i+1] = ""
			if v, ok := s.Angle(j); ok {
				row[i+1] = strconv.FormatFloat(v, 'f', 3, 64)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the snapshots as an indented array. Absent angles are null.
func WriteJSON(w io.Writer, snaps []snapshot.Snapshot) error {
	if snaps == nil {
		snaps = []snapshot.Snapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snaps)
}
