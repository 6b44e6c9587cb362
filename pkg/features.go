package decoder

import (
	"math"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Values reported when a threshold is never crossed.
const (
	DefaultTimeCharge float32 = 10
	DefaultTimeLE     float32 = 20
	DefaultJitterLE   float32 = -5
	DefaultTotLE      float32 = -5
)

const (
	fallbackSampleStep float32 = 0.2
	flatEpsilon                = 1e-9
)

// Window is an inclusive range of sample indices.
type Window struct {
	Start int
	End   int
}

// Interpolate returns the x at which the line through (x1,y1) and (x2,y2)
// reaches yTarget, or x1 when the segment is flat.
func Interpolate[T constraints.Float](x1, y1, x2, y2, yTarget T) T {
	if math.Abs(float64(y2-y1)) < flatEpsilon {
		return x1
	}
	return x1 + (x2-x1)/(y2-y1)*(yTarget-y1)
}

// FindTimeIndex returns the first index with time >= threshold, or the last
// index when no sample qualifies.
func FindTimeIndex(time []float32, threshold float32) int {
	for i, t := range time {
		if t >= threshold {
			return i
		}
	}
	return len(time) - 1
}

// AnalysisWindow spans from the first sample at or after regionMin to the
// last sample at or before regionMax.
func AnalysisWindow(time []float32, regionMin, regionMax float32) Window {
	n := len(time)
	w := Window{Start: 0, End: n - 1}
	for i := 0; i < n; i++ {
		if time[i] >= regionMin {
			w.Start = i
			break
		}
	}
	for i := n - 1; i >= 0; i-- {
		if time[i] <= regionMax {
			w.End = i
			break
		}
	}
	return w
}

// BuildWindow maps a time region to indices clipped to the analysis window.
// End is never before Start.
func BuildWindow(time []float32, regionMin, regionMax float32, analysis Window) Window {
	n := len(time)
	if n == 0 {
		return Window{}
	}
	startIdx := FindTimeIndex(time, regionMin)
	endIdx := FindTimeIndex(time, regionMax)

	start := min(max(startIdx, analysis.Start), n-1)
	start = max(0, start)
	end := max(start, min(endIdx, analysis.End, n-1))
	return Window{Start: start, End: end}
}

type BaselineMetrics struct {
	Baseline    float32
	RmsNoise    float32
	Noise1Point float32
	AmpMin      float32
	AmpMax      float32
}

// ComputeBaselineAndNoise works on the uncorrected amplitudes of the
// baseline window. Noise1Point averages each sample with its neighbours
// before subtracting the baseline.
func ComputeBaselineAndNoise(amp []float32, w Window) BaselineMetrics {
	metrics := BaselineMetrics{AmpMin: 100000, AmpMax: -100000}
	n := len(amp)
	start := max(0, w.Start)
	end := min(w.End, n-1)
	if n == 0 || end < start {
		return metrics
	}

	values := make([]float64, end-start+1)
	for i := range values {
		values[i] = float64(amp[start+i])
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	metrics.Baseline = float32(mean)
	metrics.RmsNoise = float32(std)
	metrics.AmpMin = float32(floats.Min(values))
	metrics.AmpMax = float32(floats.Max(values))

	var noise1 float64
	for i := start; i <= end; i++ {
		sum := float64(amp[i])
		count := 1
		if i > 0 {
			sum += float64(amp[i-1])
			count++
		}
		if i+1 < n {
			sum += float64(amp[i+1])
			count++
		}
		noise1 += sum/float64(count) - mean
	}
	metrics.Noise1Point = float32(noise1 / float64(len(values)))
	return metrics
}

func ApplyBaselineAndPolarity(amp []float32, baseline, polarity float32) []float32 {
	corrected := make([]float32, len(amp))
	for i, v := range amp {
		corrected[i] = (v - baseline) * polarity
	}
	return corrected
}

type Peak struct {
	Amplitude float32
	Index     int
	Time      float32
}

// FindPeak searches the window for the largest positive amplitude. On a flat
// top the last sample wins. With no positive sample the peak stays at the
// window start with amplitude 0.
func FindPeak(ampCorr, time []float32, w Window) Peak {
	n := len(ampCorr)
	if n == 0 || len(time) != n {
		return Peak{}
	}
	start := max(0, w.Start)
	end := min(w.End, n-1)

	peak := Peak{Index: start}
	for i := start; i <= end; i++ {
		val := ampCorr[i]
		if val > peak.Amplitude || (val == peak.Amplitude && val > 0) {
			peak.Amplitude = val
			peak.Index = i
		}
	}
	peak.Time = time[peak.Index]
	return peak
}

// IntegrateCharge sums ampCorr*dt/impedance over [Start, End).
func IntegrateCharge(ampCorr []float32, w Window, dt, impedance float32) float32 {
	var charge float32
	start := max(0, w.Start)
	end := min(w.End, len(ampCorr)-1)
	for i := start; i < end; i++ {
		charge += ampCorr[i] * dt / impedance
	}
	return charge
}

// ChargeFractionTimes finds, in one ascending pass, when the running charge
// first exceeds each percentage of total. Thresholds must be ascending.
// Times outside [chargeMin, chargeMax] keep the default.
func ChargeFractionTimes(ampCorr, time []float32, w Window, dt, impedance, total float32,
	thresholds []int, chargeMin, chargeMax float32) []float32 {

	times := filled(len(thresholds), DefaultTimeCharge)
	n := len(ampCorr)
	if n == 0 || len(time) != n || len(thresholds) == 0 {
		return times
	}
	start := max(0, w.Start)
	end := min(w.End, n-1)

	targets := make([]float32, len(thresholds))
	for i, pct := range thresholds {
		targets[i] = total * float32(pct) / 100
	}

	var running float32
	next := 0
	for i := start; i < end; i++ {
		step := ampCorr[i] * dt / impedance
		running += step
		if running <= targets[next] {
			continue
		}
		if i > 0 {
			t := Interpolate(time[i-1], running-step, time[i], running, targets[next])
			if t >= chargeMin && t <= chargeMax {
				times[next] = t
			}
		}
		next++
		if next == len(thresholds) {
			break
		}
	}
	return times
}

type Crossing struct {
	Time   float32
	Jitter float32
	Found  bool
}

// CrossingBackward walks from `from` down to stop (exclusive) and stops at
// the first sample below threshold, interpolating towards the next sample.
// Jitter is rmsNoise over the local slope.
func CrossingBackward(ampCorr, time []float32, from, stop int, threshold, rmsNoise float32) Crossing {
	var crossing Crossing
	n := len(ampCorr)
	if n == 0 || len(time) != n {
		return crossing
	}
	start := min(from, n-1)
	stop = max(0, stop)

	for i := start; i > stop; i-- {
		if ampCorr[i] >= threshold {
			continue
		}
		if i+1 < n {
			crossing.Time = Interpolate(time[i], ampCorr[i], time[i+1], ampCorr[i+1], threshold)
			slope := (ampCorr[i+1] - ampCorr[i]) / (time[i+1] - time[i])
			if math.Abs(float64(slope)) > flatEpsilon {
				crossing.Jitter = rmsNoise / float32(math.Abs(float64(slope)))
			}
			crossing.Found = true
		}
		break
	}
	return crossing
}

// TrailingEdgeForward walks forward from `from` and reports where the pulse
// falls back below threshold.
func TrailingEdgeForward(ampCorr, time []float32, from, stop int, threshold float32) Crossing {
	var crossing Crossing
	n := len(ampCorr)
	if n == 0 || len(time) != n {
		return crossing
	}
	start := max(1, from)
	stop = min(stop, n-1)

	for i := start; i < stop; i++ {
		if ampCorr[i] < threshold {
			crossing.Time = Interpolate(time[i-1], ampCorr[i-1], time[i], ampCorr[i], threshold)
			crossing.Found = true
			break
		}
	}
	return crossing
}

// DefaultFeatures is what an empty waveform reports.
func DefaultFeatures(cfg ChannelAnalysis) WaveformFeatures {
	return WaveformFeatures{
		TimeCFD:    make([]float32, len(cfg.CFDThresholds)),
		JitterCFD:  make([]float32, len(cfg.CFDThresholds)),
		TimeLE:     filled(len(cfg.LEThresholds), DefaultTimeLE),
		JitterLE:   filled(len(cfg.LEThresholds), DefaultJitterLE),
		TotLE:      filled(len(cfg.LEThresholds), DefaultTotLE),
		TimeCharge: filled(len(cfg.ChargeThresholds), DefaultTimeCharge),
	}
}

// ExtractFeatures computes the timing and amplitude features of one
// pedestal-corrected waveform.
func ExtractFeatures(amp, time []float32, cfg ChannelAnalysis) WaveformFeatures {
	features := DefaultFeatures(cfg)
	n := len(amp)
	if n == 0 || len(time) != n {
		return features
	}

	dt := fallbackSampleStep
	if n > 1 {
		dt = time[1] - time[0]
	}

	analysis := AnalysisWindow(time, cfg.AnalysisMin, cfg.AnalysisMax)

	baselineWindow := BuildWindow(time, cfg.BaselineMin, cfg.BaselineMax, analysis)
	baseline := ComputeBaselineAndNoise(amp, baselineWindow)
	features.Baseline = baseline.Baseline
	features.RmsNoise = baseline.RmsNoise
	features.Noise1Point = baseline.Noise1Point
	features.AmpMinBefore = baseline.AmpMin
	features.AmpMaxBefore = baseline.AmpMax

	ampCorr := ApplyBaselineAndPolarity(amp, features.Baseline, cfg.Polarity)

	signalWindow := BuildWindow(time, cfg.SignalMin, cfg.SignalMax, analysis)
	peak := FindPeak(ampCorr, time, signalWindow)
	features.AmpMax = peak.Amplitude
	features.PeakTime = peak.Time

	if features.RmsNoise > 0 {
		features.SignalOverNoise = features.AmpMax / features.RmsNoise
		features.HasSignal = features.SignalOverNoise >= cfg.SNRThreshold && features.AmpMax >= cfg.AmpCut
	} else {
		// Noiseless baseline: only the amplitude cut applies
		features.HasSignal = features.AmpMax > 0 && features.AmpMax >= cfg.AmpCut
	}

	chargeWindow := BuildWindow(time, cfg.ChargeMin, cfg.ChargeMax, analysis)
	features.Charge = IntegrateCharge(ampCorr, chargeWindow, dt, cfg.Impedance)
	features.TimeCharge = ChargeFractionTimes(ampCorr, time, chargeWindow, dt, cfg.Impedance,
		features.Charge, cfg.ChargeThresholds, cfg.ChargeMin, cfg.ChargeMax)

	for b := len(cfg.CFDThresholds) - 1; b >= 0; b-- {
		threshold := features.AmpMax * (float32(cfg.CFDThresholds[b]) / 100)
		crossing := CrossingBackward(ampCorr, time, peak.Index, signalWindow.Start, threshold, features.RmsNoise)
		if crossing.Found {
			features.TimeCFD[b] = crossing.Time
			features.JitterCFD[b] = crossing.Jitter
		}
	}

	for b := len(cfg.LEThresholds) - 1; b >= 0; b-- {
		threshold := cfg.LEThresholds[b] / 1000
		if features.AmpMax <= threshold {
			continue
		}
		leading := CrossingBackward(ampCorr, time, peak.Index, signalWindow.Start, threshold, features.RmsNoise)
		if !leading.Found {
			continue
		}
		features.TimeLE[b] = leading.Time
		features.JitterLE[b] = leading.Jitter

		trailing := TrailingEdgeForward(ampCorr, time, peak.Index, chargeWindow.End, threshold)
		if trailing.Found {
			features.TotLE[b] = trailing.Time - leading.Time
		}
	}

	ampHigh := features.AmpMax * cfg.RiseTimeHigh
	ampLow := features.AmpMax * cfg.RiseTimeLow
	high := CrossingBackward(ampCorr, time, peak.Index, signalWindow.Start, ampHigh, features.RmsNoise)
	low := CrossingBackward(ampCorr, time, peak.Index, signalWindow.Start, ampLow, features.RmsNoise)

	var timeHigh, timeLow float32
	if high.Found {
		timeHigh = high.Time
	}
	if low.Found {
		timeLow = low.Time
	}
	features.RiseTime = timeHigh - timeLow
	if features.RiseTime > 0 {
		features.SlewRate = (ampHigh - ampLow) / features.RiseTime
	}
	return features
}

func filled(n int, value float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = value
	}
	return s
}
