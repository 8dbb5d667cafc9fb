package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series() []snapshot.Snapshot {
	return []snapshot.Snapshot{
		snapshot.New(0.5, angles.Angles{angles.LeftElbow: 90, angles.Neck: 100, angles.Back: 170}),
		snapshot.New(1.0, angles.Angles{angles.LeftElbow: 120, angles.Neck: 100}),
		snapshot.New(1.5, angles.Angles{angles.LeftElbow: 120, angles.Back: 160}),
		snapshot.New(2.0, angles.Angles{angles.LeftElbow: 60, angles.LeftKnee: 175}),
	}
}

func TestMaxAngles(t *testing.T) {
	want := []MaxAngle{
		{Joint: angles.LeftElbow, Angle: 120, Time: 1.0},
		{Joint: angles.LeftKnee, Angle: 175, Time: 2.0},
		{Joint: angles.Neck, Angle: 100, Time: 0.5},
		{Joint: angles.Back, Angle: 170, Time: 0.5},
	}
	if diff := cmp.Diff(want, MaxAngles(series())); diff != "" {
		t.Errorf("MaxAngles() mismatch (-want +got):\n%s", diff)
	}

	if got := MaxAngles(nil); len(got) != 0 {
		t.Errorf("MaxAngles(nil) = %v", got)
	}
}

func TestWriteMaxTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMaxTable(&buf, series()))
	out := buf.String()
	assert.Contains(t, out, "leftElbow")
	assert.Contains(t, out, "120.0")
	assert.Contains(t, out, "1.00")
	assert.NotContains(t, out, "leftWrist")

	buf.Reset()
	require.NoError(t, WriteMaxTable(&buf, nil))
	assert.Equal(t, NoDataMessage+"\n", buf.String())

	// Snapshots that carry no angle at all also count as no data.
	buf.Reset()
	require.NoError(t, WriteMaxTable(&buf, []snapshot.Snapshot{snapshot.New(1, nil)}))
	assert.Equal(t, NoDataMessage+"\n", buf.String())
}

func TestSummarize(t *testing.T) {
	byJoint := make(map[angles.JointName]JointSummary)
	for _, js := range Summarize(series()) {
		byJoint[js.Joint] = js
	}
	require.Len(t, byJoint, len(angles.AllJoints()))

	tests := []struct {
		joint   angles.JointName
		status  Status
		samples int
	}{
		{angles.LeftElbow, StatusAvailable, 4},
		{angles.Neck, StatusAvailable, 2},
		{angles.LeftKnee, StatusSparse, 1},
		{angles.LeftWrist, StatusUnavailable, 0},
		{angles.RightKnee, StatusUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.joint), func(t *testing.T) {
			js := byJoint[tt.joint]
			assert.Equal(t, tt.status, js.Status)
			assert.Equal(t, tt.samples, js.Samples)
		})
	}

	elbow := byJoint[angles.LeftElbow]
	assert.Equal(t, 1.0, elbow.Coverage)
	assert.Equal(t, 60.0, elbow.Min)
	assert.Equal(t, 120.0, elbow.Max)
	assert.InDelta(t, 97.5, elbow.Mean, 1e-9)
	// Sample standard deviation of {90, 120, 120, 60}.
	assert.InDelta(t, math.Sqrt(825), elbow.StdDev, 1e-9)

	knee := byJoint[angles.LeftKnee]
	assert.Equal(t, 175.0, knee.Mean)
	assert.Zero(t, knee.StdDev)
}

func TestUnavailable(t *testing.T) {
	want := []angles.JointName{angles.RightElbow, angles.LeftWrist, angles.RightWrist, angles.RightKnee}
	if diff := cmp.Diff(want, Unavailable(series())); diff != "" {
		t.Errorf("Unavailable() mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, Unavailable(nil), len(angles.AllJoints()))
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, series()))
	out := buf.String()
	assert.Contains(t, out, "unavailable")
	assert.Contains(t, out, "sparse")
	assert.Contains(t, out, "100%")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, series()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"time", "leftElbow", "rightElbow", "leftWrist", "rightWrist", "leftKnee", "rightKnee", "neck", "back"}, rows[0])
	assert.Equal(t, []string{"0.50", "90.000", "", "", "", "", "", "100.000", "170.000"}, rows[1])
	assert.Equal(t, "", rows[2][8], "absent value must be an empty cell, not zero")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, series()[:1]))

	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	require.Len(t, raw, 1)
	a := raw[0]["angles"].(map[string]interface{})
	assert.Nil(t, a["leftWrist"])
	assert.Equal(t, 90.0, a["leftElbow"])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestParseHidden(t *testing.T) {
	hidden, err := ParseHidden("neck, back,")
	require.NoError(t, err)
	assert.Equal(t, map[angles.JointName]bool{angles.Neck: true, angles.Back: true}, hidden)

	hidden, err = ParseHidden("")
	require.NoError(t, err)
	assert.Empty(t, hidden)

	_, err = ParseHidden("tail")
	assert.Error(t, err)
}

func TestRenderChartHTML(t *testing.T) {
	var buf bytes.Buffer
	o := ChartOptions{Title: "Squat", Hidden: map[angles.JointName]bool{angles.Back: true}}
	require.NoError(t, RenderChartHTML(&buf, series(), o))

	out := buf.String()
	assert.Contains(t, out, "Squat")
	assert.Contains(t, out, `"leftElbow"`)
	assert.NotContains(t, out, `"back"`, "hidden joint must not be charted")
	assert.Contains(t, out, "Curves not available: rightElbow, leftWrist, rightWrist, rightKnee")
}

func TestSegments(t *testing.T) {
	segs := segments(series(), angles.Neck)
	require.Len(t, segs, 1)
	assert.Len(t, segs[0], 2)

	segs = segments(series(), angles.Back)
	require.Len(t, segs, 2, "gap at t=1.0 splits the line")
	assert.Equal(t, 0.5, segs[0][0].X)
	assert.Equal(t, 1.5, segs[1][0].X)

	assert.Empty(t, segments(series(), angles.LeftWrist))
}

func TestWritePlot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlot(&buf, "svg", series(), ChartOptions{}))
	assert.True(t, strings.Contains(buf.String(), "<svg"))

	assert.Error(t, WritePlot(&bytes.Buffer{}, "nope", series(), ChartOptions{}))
}

func TestSavePlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SavePlot(filepath.Join(dir, "angles.png"), series(), ChartOptions{}))
	assert.Error(t, SavePlot(filepath.Join(dir, "angles"), series(), ChartOptions{}))

	// An empty session still produces a (blank) chart.
	require.NoError(t, SavePlot(filepath.Join(dir, "empty.svg"), nil, ChartOptions{}))
}
