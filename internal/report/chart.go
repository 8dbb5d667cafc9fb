package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var palette = []string{
	"#3366CC", "#DC3912", "#FF9900", "#109618", "#990099",
	"#3B3EAC", "#0099C6", "#DD4477", "#66AA00", "#B82E2E",
}

// ChartOptions controls the chart renderers.
type ChartOptions struct {
	Title  string
	Hidden map[angles.JointName]bool
}

func (o ChartOptions) title() string {
	if o.Title == "" {
		return "Joint angles"
	}
	return o.Title
}

func (o ChartOptions) visible() []angles.JointName {
	var out []angles.JointName
	for _, j := range angles.AllJoints() {
		if !o.Hidden[j] {
			out = append(out, j)
		}
	}
	return out
}

// ParseHidden parses a comma-separated joint list such as "neck,back".
func ParseHidden(s string) (map[angles.JointName]bool, error) {
	hidden := make(map[angles.JointName]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		j, err := angles.ParseJoint(part)
		if err != nil {
			return nil, err
		}
		hidden[j] = true
	}
	return hidden, nil
}

func unavailableNote(snaps []snapshot.Snapshot) string {
	missing := Unavailable(snaps)
	if len(missing) == 0 {
		return ""
	}
	names := make([]string, len(missing))
	for i, j := range missing {
		names[i] = string(j)
	}
	return "Curves not available: " + strings.Join(names, ", ")
}

// RenderChartHTML writes an interactive line chart, one series per visible joint.
// Absent readings are gaps in the line.
func RenderChartHTML(w io.Writer, snaps []snapshot.Snapshot, o ChartOptions) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.title(), Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: o.title(), Subtitle: unavailableNote(snaps)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Angle (°)", Min: 0, Max: 180}),
	)

	for i, j := range o.visible() {
		data := make([]opts.LineData, len(snaps))
		for k, s := range snaps {
			if v, ok := s.Angle(j); ok {
				data[k] = opts.LineData{Value: []interface{}{s.Time(), v}}
			} else {
				data[k] = opts.LineData{Value: []interface{}{s.Time(), "-"}}
			}
		}
		color := palette[i%len(palette)]
		line.AddSeries(string(j), data,
			charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false), ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 3, Color: color}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
		)
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
