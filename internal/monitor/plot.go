package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/shakedasido/AutoLink/internal/posefilter"
)

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

var (
	rangeColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	angleColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	leftColor  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	rightColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// newTracePlot draws range, angle and wheel duties against cycle number.
// Invalid cycles are skipped in the pose series so the sentinel does not
// flatten the chart.
func newTracePlot(t *Trace) (*plot.Plot, error) {
	samples := t.Samples()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s", t.Kind, t.ID)
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "cm / deg / duty %"
	p.Legend.Top = true

	rangePts := make(plotter.XYs, 0, len(samples))
	anglePts := make(plotter.XYs, 0, len(samples))
	leftPts := make(plotter.XYs, 0, len(samples))
	rightPts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		x := float64(s.Cycle)
		if rng, ok := displayRange(s); ok {
			rangePts = append(rangePts, plotter.XY{X: x, Y: rng})
		}
		if s.Pose.Valid {
			anglePts = append(anglePts, plotter.XY{X: x, Y: s.Pose.Angle})
		}
		leftPts = append(leftPts, plotter.XY{X: x, Y: signedDuty(s.Command.LeftDuty, s.Command.LeftReverse)})
		rightPts = append(rightPts, plotter.XY{X: x, Y: signedDuty(s.Command.RightDuty, s.Command.RightReverse)})
	}

	series := []struct {
		name string
		pts  plotter.XYs
		col  color.Color
	}{
		{"range", rangePts, rangeColor},
		{"angle", anglePts, angleColor},
		{"left duty", leftPts, leftColor},
		{"right duty", rightPts, rightColor},
	}
	for _, ser := range series {
		if len(ser.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(ser.pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", ser.name, err)
		}
		line.Color = ser.col
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(ser.name, line)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// SavePNG writes the trace chart to path.
func SavePNG(t *Trace, path string) error {
	p, err := newTracePlot(t)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WritePNG renders the trace chart to w.
func WritePNG(t *Trace, w io.Writer) error {
	p, err := newTracePlot(t)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// displayRange reports the range worth drawing. Invalid and coasting cycles
// carry a sentinel.
func displayRange(s Sample) (float64, bool) {
	if !s.Pose.Valid || s.Pose.State == posefilter.StateCoasting {
		return 0, false
	}
	return s.Pose.Range, true
}

func signedDuty(duty float64, reverse bool) float64 {
	if reverse {
		return -duty
	}
	return duty
}
