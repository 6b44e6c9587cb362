package decoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pulseAnalysis(t *testing.T) ChannelAnalysis {
	t.Helper()
	config := testConfiguration(t, 1)
	config.Analysis.SNRThreshold = 3
	return config.Analysis.Channel(0)
}

func TestInterpolateExact(t *testing.T) {
	cases := []struct {
		t1, y1, t2, y2, threshold float64
	}{
		{10.8, 40, 11.0, 50, 45},
		{0, -1, 1, 3, 0},
		{5, 10, 5.2, 2, 7.5},
		{1, 0, 2, 1, 1},
	}
	for _, c := range cases {
		x := Interpolate(c.t1, c.y1, c.t2, c.y2, c.threshold)
		// The point lies on the line through both samples
		lhs := (c.threshold - c.y1) * (c.t2 - c.t1)
		rhs := (x - c.t1) * (c.y2 - c.y1)
		assert.InDelta(t, lhs, rhs, 1e-12)
		assert.True(t, x >= math.Min(c.t1, c.t2) && x <= math.Max(c.t1, c.t2))
	}

	assert.Equal(t, float32(3), Interpolate[float32](3, 7, 4, 7, 7))
}

func TestBuildWindowCollapses(t *testing.T) {
	time := timeAxis(100, 0.2)
	analysis := AnalysisWindow(time, -100, 300)
	assert.Equal(t, Window{Start: 0, End: 99}, analysis)

	w := BuildWindow(time, 10, 2, analysis)
	assert.Equal(t, Window{Start: 50, End: 50}, w)

	w = BuildWindow(time, 500, 600, analysis)
	assert.Equal(t, Window{Start: 99, End: 99}, w)

	narrow := AnalysisWindow(time, 4, 6)
	w = BuildWindow(time, 0, 100, narrow)
	assert.Equal(t, narrow, w)
}

func TestComputeBaselineAndNoise(t *testing.T) {
	amp := []float32{1, -1, 1, -1, 50}
	metrics := ComputeBaselineAndNoise(amp, Window{Start: 0, End: 3})
	assert.InDelta(t, 0, metrics.Baseline, 1e-7)
	assert.InDelta(t, 1, metrics.RmsNoise, 1e-7)
	assert.Equal(t, float32(-1), metrics.AmpMin)
	assert.Equal(t, float32(1), metrics.AmpMax)
	// (0 + 1/3 - 1/3 + 50/3) / 4
	assert.InDelta(t, 50.0/12, metrics.Noise1Point, 1e-5)
}

func TestSyntheticPulse(t *testing.T) {
	cfg := pulseAnalysis(t)
	time := timeAxis(1000, 0.2)
	amp := syntheticPulse(1000, 3500)

	f := ExtractFeatures(amp, time, cfg)

	assert.InDelta(t, 3500, f.Baseline, 1e-3)
	assert.InDelta(t, 0, f.RmsNoise, 1e-3)
	assert.True(t, f.HasSignal)
	assert.InDelta(t, 100, f.AmpMax, 1e-3)
	assert.InDelta(t, 17, f.PeakTime, 1e-4)

	require.Equal(t, []int{10, 20, 30, 50}, cfg.CFDThresholds)
	assert.InDelta(t, 11.0, f.TimeCFD[3], 1e-4)
	assert.InDelta(t, 10.2, f.TimeCFD[0], 1e-4)
	for b := 1; b < len(f.TimeCFD); b++ {
		assert.Greater(t, f.TimeCFD[b], f.TimeCFD[b-1])
	}

	// 10%-90% of a 0 to 100 ramp over 2 ns
	assert.InDelta(t, 1.6, f.RiseTime, 1e-4)
	assert.InDelta(t, 50, f.SlewRate, 1e-2)

	// 3500 amplitude samples * 0.2 ns / 50 ohm
	assert.InDelta(t, 14, f.Charge, 1e-3)

	// Both edges move 50 units/ns; LE thresholds are in mV
	for b, mv := range cfg.LEThresholds {
		shift := mv / 1000 / 50
		assert.InDelta(t, 10+shift, f.TimeLE[b], 1e-4, "threshold %g mV", mv)
		assert.InDelta(t, 9-2*shift, f.TotLE[b], 1e-4, "threshold %g mV", mv)
	}
}

func TestSyntheticPulseNegativePolarity(t *testing.T) {
	cfg := pulseAnalysis(t)
	time := timeAxis(1000, 0.2)
	positive := syntheticPulse(1000, 0)
	negative := make([]float32, len(positive))
	for i, v := range positive {
		negative[i] = 200 - v
	}

	want := ExtractFeatures(positive, time, cfg)
	cfg.Polarity = -1
	got := ExtractFeatures(negative, time, cfg)

	assert.InDelta(t, want.AmpMax, got.AmpMax, 1e-4)
	assert.InDelta(t, want.PeakTime, got.PeakTime, 1e-4)
	assert.InDeltaSlice(t, want.TimeCFD, got.TimeCFD, 1e-4)
	assert.InDelta(t, want.Charge, got.Charge, 1e-3)
}

func TestNoisyPulseSignalOverNoise(t *testing.T) {
	cfg := pulseAnalysis(t)
	time := timeAxis(1000, 0.2)
	amp := syntheticPulse(1000, 0)
	for i := 0; i < 41; i++ {
		if i%2 == 0 {
			amp[i] = 1
		} else {
			amp[i] = -1
		}
	}

	f := ExtractFeatures(amp, time, cfg)
	assert.Greater(t, f.RmsNoise, float32(0.9))
	assert.True(t, f.HasSignal)
	assert.InDelta(t, f.AmpMax/f.RmsNoise, f.SignalOverNoise, 1e-4)
	// Jitter is noise over slope, the ramp has slope 50/ns
	assert.InDelta(t, f.RmsNoise/50, f.JitterCFD[3], 1e-3)

	cfg.AmpCut = 150
	assert.False(t, ExtractFeatures(amp, time, cfg).HasSignal)
}

func TestDeadChannel(t *testing.T) {
	cfg := pulseAnalysis(t)
	time := timeAxis(1000, 0.2)

	f := ExtractFeatures(make([]float32, 1000), time, cfg)
	assert.False(t, f.HasSignal)
	assert.Equal(t, float32(0), f.AmpMax)
	assert.Equal(t, float32(0), f.PeakTime)
	assert.Equal(t, float32(0), f.Charge)
	assert.Equal(t, float32(0), f.RiseTime)
	assert.Equal(t, float32(0), f.SlewRate)
	assert.Equal(t, []float32{0, 0, 0, 0}, f.TimeCFD)
	assert.Equal(t, []float32{20, 20, 20}, f.TimeLE)
	assert.Equal(t, []float32{-5, -5, -5}, f.JitterLE)
	assert.Equal(t, []float32{-5, -5, -5}, f.TotLE)
	assert.Equal(t, []float32{10, 10, 10}, f.TimeCharge)
}

func TestEmptyOrMismatchedWaveform(t *testing.T) {
	cfg := pulseAnalysis(t)
	want := DefaultFeatures(cfg)

	assert.Equal(t, want, ExtractFeatures(nil, nil, cfg))
	assert.Equal(t, want, ExtractFeatures(make([]float32, 10), timeAxis(9, 0.2), cfg))
}

func TestChargeFractionTimesMonotonic(t *testing.T) {
	time := timeAxis(400, 0.2)
	ampCorr := make([]float32, 400)
	for i := range ampCorr {
		// Strictly positive, uneven shape
		ampCorr[i] = 1 + float32(i%17) + float32(math.Exp(-float64((i-120)*(i-120))/400))*80
	}
	w := Window{Start: 0, End: 399}
	charge := IntegrateCharge(ampCorr, w, 0.2, 50)
	thresholds := []int{5, 10, 20, 30, 50, 70, 90, 95}

	times := ChargeFractionTimes(ampCorr, time, w, 0.2, 50, charge, thresholds, 0, 80)
	require.Len(t, times, len(thresholds))
	for b := 1; b < len(times); b++ {
		assert.GreaterOrEqual(t, times[b], times[b-1])
	}
	assert.NotEqual(t, DefaultTimeCharge, times[len(times)-1])
}

func TestChargeFractionOutsideRangeKeepsDefault(t *testing.T) {
	time := timeAxis(100, 0.2)
	ampCorr := make([]float32, 100)
	for i := range ampCorr {
		ampCorr[i] = 1
	}
	w := Window{Start: 0, End: 99}
	charge := IntegrateCharge(ampCorr, w, 0.2, 50)

	times := ChargeFractionTimes(ampCorr, time, w, 0.2, 50, charge, []int{10, 90}, 0, 5)
	assert.InDelta(t, 1.78, times[0], 1e-2)
	assert.Equal(t, DefaultTimeCharge, times[1])
}

func TestCrossingBackwardAndTrailingEdge(t *testing.T) {
	time := timeAxis(10, 1)
	ampCorr := []float32{0, 0, 2, 6, 10, 6, 2, 0, 0, 0}

	leading := CrossingBackward(ampCorr, time, 4, 0, 4, 2)
	require.True(t, leading.Found)
	assert.InDelta(t, 2.5, leading.Time, 1e-6)
	assert.InDelta(t, 0.5, leading.Jitter, 1e-6)

	trailing := TrailingEdgeForward(ampCorr, time, 4, 9, 4)
	require.True(t, trailing.Found)
	assert.InDelta(t, 5.5, trailing.Time, 1e-6)

	// Nothing below threshold before the stop index
	assert.False(t, CrossingBackward(ampCorr, time, 4, 3, 4, 2).Found)
}
