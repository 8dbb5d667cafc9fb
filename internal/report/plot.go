package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// segments splits the series of j at absent readings so gaps are not bridged.
func segments(snaps []snapshot.Snapshot, j angles.JointName) []plotter.XYs {
	var (
		out []plotter.XYs
		cur plotter.XYs
	)
	for _, s := range snaps {
		v, ok := s.Angle(j)
		if !ok {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: s.Time(), Y: v})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// NewPlot builds a static chart of the visible joints.
func NewPlot(snaps []snapshot.Snapshot, o ChartOptions) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = o.title()
	if note := unavailableNote(snaps); note != "" {
		p.Title.Text += "\n" + note
	}
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle (°)"
	p.X.Min = 0
	p.Y.Min, p.Y.Max = 0, 180
	p.Add(plotter.NewGrid())

	for i, j := range o.visible() {
		for k, seg := range segments(snaps, j) {
			if len(seg) == 1 {
				sc, err := plotter.NewScatter(seg)
				if err != nil {
					return nil, err
				}
				sc.GlyphStyle.Color = plotutil.Color(i)
				p.Add(sc)
				if k == 0 {
					p.Legend.Add(string(j), sc)
				}
				continue
			}
			l, err := plotter.NewLine(seg)
			if err != nil {
				return nil, err
			}
			l.Color = plotutil.Color(i)
			l.Width = vg.Points(2)
			p.Add(l)
			if k == 0 {
				p.Legend.Add(string(j), l)
			}
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlot encodes the chart in format (png, svg, pdf, ...).
func WritePlot(w io.Writer, format string, snaps []snapshot.Snapshot, o ChartOptions) error {
	p, err := NewPlot(snaps, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return fmt.Errorf("plot format %q: %w", format, err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes the chart to path; the extension selects the format.
func SavePlot(path string, snaps []snapshot.Snapshot, o ChartOptions) error {
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		return fmt.Errorf("plot path %q has no extension", path)
	}
	p, err := NewPlot(snaps, o)
	if err != nil {
		return err
	}
	return p.Save(plotWidth, plotHeight, path)
}
