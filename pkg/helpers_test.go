package decoder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfiguration(t *testing.T, nChannels int) Configuration {
	t.Helper()
	config := DefaultConfiguration()
	config.NChannels = nChannels
	config.EnableSpecialOverride = false
	config.ChunkSize = 4
	config.MaxWorkers = 1
	config.PedestalWindow = 20
	for ch := 0; ch < nChannels; ch++ {
		config.Analysis.BaselineRegionMin = append(config.Analysis.BaselineRegionMin, 0)
		config.Analysis.BaselineRegionMax = append(config.Analysis.BaselineRegionMax, 8)
	}
	require.NoError(t, config.Normalize())
	return config
}

// syntheticPulse: flat 0 up to 10 ns, linear ramp to 100 at 12 ns, flat
// until 17 ns, symmetric fall to 0 at 19 ns. 0.2 ns per sample.
func syntheticPulse(n int, offset float32) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		var v float32
		switch {
		case i >= 50 && i <= 60:
			v = float32(i-50) * 10
		case i > 60 && i < 85:
			v = 100
		case i >= 85 && i <= 95:
			v = 100 - float32(i-85)*10
		}
		samples[i] = v + offset
	}
	return samples
}

func timeAxis(n int, step float64) []float32 {
	axis := make([]float32, n)
	for i := range axis {
		axis[i] = float32(float64(i) * step)
	}
	return axis
}

type frameFixture struct {
	board   uint32
	channel uint32
	counter uint32
	samples []float32
}

func encodeFrames(t *testing.T, frames []frameFixture) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		header := FrameHeader{BoardID: f.board, ChannelID: f.channel, EventCounter: f.counter}
		require.NoError(t, WriteFrame(&buf, header, f.samples))
	}
	return buf.Bytes()
}

// channelFiles builds nEvents frames per channel. Channel ch of event e
// carries a pulse shifted by ch and e so every frame is distinct.
func channelFiles(t *testing.T, nChannels, nEvents, nSamples int) [][]byte {
	t.Helper()
	files := make([][]byte, nChannels)
	for ch := range files {
		frames := make([]frameFixture, nEvents)
		for e := range frames {
			frames[e] = frameFixture{
				board:   7,
				channel: uint32(ch),
				counter: uint32(e),
				samples: syntheticPulse(nSamples, float32(1000+10*ch+e)),
			}
		}
		files[ch] = encodeFrames(t, frames)
	}
	return files
}

func binaryStreams(files [][]byte) []ChannelStream {
	streams := make([]ChannelStream, len(files))
	for ch, data := range files {
		streams[ch] = NewBinaryStream(bytes.NewReader(data), ch)
	}
	return streams
}

type memorySink struct {
	events []*ProcessedEvent
	closed bool
}

func (s *memorySink) WriteEvent(event *ProcessedEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}
