package web

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/sweeney/opamp-chip/internal/amp"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// renderPlot draws IN+, IN- and OUT against seconds since the oldest sample.
func renderPlot(w io.Writer, history []amp.Sample) error {
	p := plot.New()
	p.Title.Text = "opamp"
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "V"
	p.Add(plotter.NewGrid())

	t0 := history[0].Timestamp
	series := []struct {
		name string
		v    func(amp.Sample) float64
	}{
		{"IN+", func(s amp.Sample) float64 { return s.VInP }},
		{"IN-", func(s amp.Sample) float64 { return s.VInN }},
		{"OUT", func(s amp.Sample) float64 { return s.Out }},
	}

	for i, sr := range series {
		xys := make(plotter.XYs, len(history))
		for j, s := range history {
			xys[j].X = s.Timestamp.Sub(t0).Seconds()
			xys[j].Y = sr.v(s)
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("%s line: %w", sr.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(sr.name, line)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("plot writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
