package main

import (
	"os"
	"path/filepath"
	"testing"

	decoder "github.com/next-exp/waveconverter_go/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *decoder.ProcessedEvent {
	return &decoder.ProcessedEvent{
		Trigger:        4,
		RawSampleCount: []int32{4, 2},
		MaxSamples:     4,
		TimeAxis:       []float32{0, 0.2, 0.4, 0.6},
		Pedestals:      []float32{100, 100},
		Corrected: [][]float32{
			{3500, 3480, 3450, 3500},
			{3500, 3500, 3500, 3500},
		},
		Features: []decoder.WaveformFeatures{
			{HasSignal: true, Baseline: 3500, AmpMax: 50, PeakTime: 0.4, TimeCFD: []float32{0.1, 0.3}},
			{},
		},
	}
}

func TestWaveformPointsUsesRecordedSamples(t *testing.T) {
	event := testEvent()

	pts := waveformPoints(event, 0)
	require.Len(t, pts, 4)
	assert.InDelta(t, 0.4, pts[2].X, 1e-6)
	assert.Equal(t, 3450.0, pts[2].Y)

	assert.Len(t, waveformPoints(event, 1), 2)
}

func TestMarkerPoints(t *testing.T) {
	event := testEvent()

	peak, cfd := markerPoints(event, 0, 1, -1)
	require.Len(t, peak, 1)
	require.Len(t, cfd, 1)
	assert.Equal(t, 3450.0, peak[0].Y)
	assert.InDelta(t, 0.4, peak[0].X, 1e-6)
	assert.Equal(t, 3475.0, cfd[0].Y)
	assert.InDelta(t, 0.3, cfd[0].X, 1e-6)

	peak, cfd = markerPoints(event, 1, 1, -1)
	assert.Nil(t, peak)
	assert.Nil(t, cfd)

	_, cfd = markerPoints(event, 0, -1, -1)
	assert.Nil(t, cfd)
}

func TestCfdHalfIndex(t *testing.T) {
	assert.Equal(t, 3, cfdHalfIndex([]int{10, 20, 30, 50}))
	assert.Equal(t, -1, cfdHalfIndex([]int{10, 20}))
}

func TestPlotEventWritesPNG(t *testing.T) {
	configuration := decoder.DefaultConfiguration()
	configuration.NChannels = 2
	require.NoError(t, configuration.Analysis.Normalize(2))

	filename := filepath.Join(t.TempDir(), "trigger.png")
	require.NoError(t, plotEvent(testEvent(), configuration, filename))

	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
