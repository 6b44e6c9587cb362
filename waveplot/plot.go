package main

import (
	"fmt"

	decoder "github.com/next-exp/waveconverter_go/pkg"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// waveformPoints returns the corrected waveform of one channel, limited to
// the samples the channel actually recorded.
func waveformPoints(event *decoder.ProcessedEvent, ch int) plotter.XYs {
	n := min(int(event.RawSampleCount[ch]), len(event.Corrected[ch]), len(event.TimeAxis))
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i].X = float64(event.TimeAxis[i])
		pts[i].Y = float64(event.Corrected[ch][i])
	}
	return pts
}

// markerPoints places the peak and the 50% CFD crossing of a channel that
// saw a signal, drawn back in the corrected waveform's frame.
func markerPoints(event *decoder.ProcessedEvent, ch int, cfdIndex int, polarity float32) (peak plotter.XYs, cfd plotter.XYs) {
	f := event.Features[ch]
	if !f.HasSignal {
		return nil, nil
	}
	peakLevel := float64(f.Baseline + polarity*f.AmpMax)
	peak = plotter.XYs{{X: float64(f.PeakTime), Y: peakLevel}}
	if cfdIndex >= 0 && cfdIndex < len(f.TimeCFD) {
		cfd = plotter.XYs{{X: float64(f.TimeCFD[cfdIndex]), Y: float64(f.Baseline + polarity*f.AmpMax/2)}}
	}
	return peak, cfd
}

func cfdHalfIndex(thresholds []int) int {
	for i, t := range thresholds {
		if t == 50 {
			return i
		}
	}
	return -1
}

func plotEvent(event *decoder.ProcessedEvent, configuration decoder.Configuration, filename string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %d - Trigger %d", configuration.RunNumber, event.Trigger)
	p.X.Label.Text = "Time (ns)"
	p.Y.Label.Text = "Amplitude (pedestal corrected)"

	cfdIndex := cfdHalfIndex(configuration.Analysis.CFDThresholds)
	for ch := range event.Corrected {
		pts := waveformPoints(event, ch)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(ch)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("ch%d", ch), line)

		peak, cfd := markerPoints(event, ch, cfdIndex, configuration.Analysis.Channel(ch).Polarity)
		for _, m := range []struct {
			pts   plotter.XYs
			shape draw.GlyphDrawer
		}{{peak, draw.TriangleGlyph{}}, {cfd, draw.CrossGlyph{}}} {
			if len(m.pts) == 0 {
				continue
			}
			scatter, err := plotter.NewScatter(m.pts)
			if err != nil {
				return err
			}
			scatter.GlyphStyle.Color = plotutil.Color(ch)
			scatter.GlyphStyle.Shape = m.shape
			scatter.GlyphStyle.Radius = vg.Points(3)
			p.Add(scatter)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, filename)
}
