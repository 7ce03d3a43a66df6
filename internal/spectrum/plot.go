package spectrum

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg" // registers png
)

// Scale selects the magnitude axis of a rendered spectrum.
type Scale int

const (
	Linear Scale = iota
	Log
)

func (s Scale) String() string {
	if s == Log {
		return "log"
	}
	return "linear"
}

// ParseScale accepts "linear", "lin", "log" (case-insensitive). The empty
// string is Linear.
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear", "lin":
		return Linear, nil
	case "log", "logarithmic":
		return Log, nil
	}
	return Linear, fmt.Errorf("unknown scale %q", s)
}

var ErrNothingToPlot = errors.New("spectrum has no plottable points")

// NewPlot builds the magnitude-versus-frequency plot. On a log scale bins
// with non-positive magnitude are skipped.
func NewPlot(res Result, scale Scale) (*plot.Plot, error) {
	pts := make(plotter.XYs, 0, len(res.Points))
	for _, pt := range res.Points {
		if scale == Log && pt.Magnitude <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: pt.Frequency, Y: pt.Magnitude})
	}
	if len(pts) == 0 {
		return nil, ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Magnetic field spectrum (%d samples, %.4g Hz/bin)", res.Count, res.Resolution)
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude"
	if scale == Log {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build spectrum line: %w", err)
	}
	line.Color = color.RGBA{R: 200, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(plotter.NewGrid(), line)
	return p, nil
}

// WritePNG renders the spectrum as a PNG image to w.
func WritePNG(w io.Writer, res Result, scale Scale) error {
	p, err := NewPlot(res, scale)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render spectrum: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders the spectrum to path.
func SavePNG(path string, res Result, scale Scale) error {
	p, err := NewPlot(res, scale)
	if err != nil {
		return err
	}
	if err := p.Save(12*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save spectrum plot %s: %w", path, err)
	}
	return nil
}
