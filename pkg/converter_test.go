package decoder

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConverter(t *testing.T, config Configuration, files [][]byte) (*memorySink, RunSummary, error) {
	t.Helper()
	sink := &memorySink{}
	reader := NewChunkedReader(binaryStreams(files), config.ChunkSize, config.MaxWorkers)
	summary, err := NewConverter(config).Run(context.Background(), reader, sink)
	return sink, summary, err
}

func features(events []*ProcessedEvent) [][]WaveformFeatures {
	out := make([][]WaveformFeatures, len(events))
	for i, e := range events {
		out[i] = e.Features
	}
	return out
}

func TestConverterRun(t *testing.T) {
	config := testConfiguration(t, 4)
	files := channelFiles(t, 4, 10, 1000)

	sink, summary, err := runConverter(t, config, files)
	require.NoError(t, err)
	require.Len(t, sink.events, 10)
	assert.Equal(t, 10, summary.TriggersRead)
	assert.Equal(t, 10, summary.TriggersWritten)
	assert.Equal(t, 3, summary.Chunks)

	for i, event := range sink.events {
		assert.Equal(t, int32(i), event.Trigger)
		require.Len(t, event.Features, 4)
		for ch, f := range event.Features {
			assert.True(t, f.HasSignal, "trigger %d ch%d", i, ch)
			assert.InDelta(t, 100, f.AmpMax, 1e-2)
			assert.InDelta(t, 11.0, f.TimeCFD[3], 1e-3)
			assert.InDelta(t, config.PedTarget, f.Baseline, 1e-2)
		}
	}
}

func TestConverterWorkerEquivalence(t *testing.T) {
	files := channelFiles(t, 8, 13, 500)

	config := testConfiguration(t, 8)
	config.MaxWorkers = 1
	sequential, _, err := runConverter(t, config, files)
	require.NoError(t, err)

	for _, workers := range []int{2, 4, 8, 32} {
		config.MaxWorkers = workers
		parallel, _, err := runConverter(t, config, files)
		require.NoError(t, err)
		if diff := cmp.Diff(features(sequential.events), features(parallel.events)); diff != "" {
			t.Errorf("workers=%d features differ (-sequential +parallel):\n%s", workers, diff)
		}
		if diff := cmp.Diff(sequential.events, parallel.events); diff != "" {
			t.Errorf("workers=%d events differ (-sequential +parallel):\n%s", workers, diff)
		}
	}
}

func TestConverterSampleCountPolicy(t *testing.T) {
	files := channelFiles(t, 2, 3, 200)
	short := make([]frameFixture, 3)
	for e := range short {
		short[e] = frameFixture{board: 7, channel: 1, counter: uint32(e), samples: syntheticPulse(195, 1000)}
	}
	files[1] = encodeFrames(t, short)

	t.Run("strict", func(t *testing.T) {
		config := testConfiguration(t, 2)
		config.NsamplesPolicy = NsamplesStrict
		sink, _, err := runConverter(t, config, files)

		var mismatch *ErrSampleCountMismatch
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 0, mismatch.Trigger)
		assert.Empty(t, sink.events)
	})

	t.Run("pad", func(t *testing.T) {
		config := testConfiguration(t, 2)
		config.NsamplesPolicy = NsamplesPad
		sink, summary, err := runConverter(t, config, files)
		require.NoError(t, err)
		require.Len(t, sink.events, 3)
		assert.Equal(t, 3, summary.Sync.PaddedEvents)

		event := sink.events[0]
		assert.Equal(t, 200, event.MaxSamples)
		assert.Equal(t, []int32{200, 195}, event.RawSampleCount)
		require.Len(t, event.Corrected[1], 200)
		for _, v := range event.Corrected[1][195:] {
			assert.Equal(t, float32(config.PedTarget), v)
		}
		assert.Equal(t, event.Raw[1][195], event.Pedestals[1])
		assert.True(t, event.Features[1].HasSignal)
	})
}

func TestConverterSkipPolicy(t *testing.T) {
	config := testConfiguration(t, 2)
	config.EventPolicy = EventSkip

	files := channelFiles(t, 2, 5, 200)
	frames := make([]frameFixture, 5)
	for e := range frames {
		counter := uint32(e)
		if e == 2 {
			counter = 99
		}
		frames[e] = frameFixture{board: 7, channel: 1, counter: counter, samples: syntheticPulse(200, 0)}
	}
	files[1] = encodeFrames(t, frames)

	sink, summary, err := runConverter(t, config, files)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TriggersRead)
	assert.Equal(t, 4, summary.TriggersWritten)
	assert.Equal(t, 1, summary.Sync.SkippedEvents)
	assert.Equal(t, 1, summary.Sync.IssueEvents[IssueEventCounter])

	var triggers []int32
	for _, e := range sink.events {
		triggers = append(triggers, e.Trigger)
	}
	assert.Equal(t, []int32{0, 1, 3, 4}, triggers)
}

func TestConverterErrorPolicyAborts(t *testing.T) {
	config := testConfiguration(t, 2)
	files := channelFiles(t, 2, 6, 100)
	frames := make([]frameFixture, 6)
	for e := range frames {
		frames[e] = frameFixture{board: 7, channel: 1, counter: uint32(e), samples: syntheticPulse(100, 0)}
	}
	frames[5].board = 8
	files[1] = encodeFrames(t, frames)

	sink, summary, err := runConverter(t, config, files)
	var consistency *ErrConsistency
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, 5, consistency.Trigger)
	assert.Equal(t, IssueBoardID, consistency.Issues[0].Kind)
	// Triggers of earlier chunks were already written
	assert.Len(t, sink.events, 4)
	assert.Equal(t, 5, summary.TriggersRead)
}

func TestConverterSkipAndMaxEvents(t *testing.T) {
	config := testConfiguration(t, 2)
	config.Skip = 2
	config.MaxEvents = 7
	files := channelFiles(t, 2, 20, 100)

	sink, summary, err := runConverter(t, config, files)
	require.NoError(t, err)
	assert.True(t, summary.LimitReached)
	assert.Equal(t, 7, summary.TriggersRead)
	assert.Equal(t, 2, summary.TriggersSkipped)
	require.Len(t, sink.events, 5)
	assert.Equal(t, int32(2), sink.events[0].Trigger)
	assert.Equal(t, int32(6), sink.events[4].Trigger)
}

func TestConverterDeadChannelDoesNotAffectSiblings(t *testing.T) {
	config := testConfiguration(t, 3)
	files := channelFiles(t, 3, 2, 1000)
	dead := []frameFixture{
		{board: 7, channel: 1, counter: 0, samples: make([]float32, 1000)},
		{board: 7, channel: 1, counter: 1, samples: make([]float32, 1000)},
	}
	files[1] = encodeFrames(t, dead)

	sink, _, err := runConverter(t, config, files)
	require.NoError(t, err)
	for _, event := range sink.events {
		assert.False(t, event.Features[1].HasSignal)
		assert.Equal(t, float32(0), event.Features[1].AmpMax)
		assert.True(t, event.Features[0].HasSignal)
		assert.True(t, event.Features[2].HasSignal)
	}
}

func TestConverterStopsWhenCancelled(t *testing.T) {
	config := testConfiguration(t, 2)
	files := channelFiles(t, 2, 10, 100)
	reader := NewChunkedReader(binaryStreams(files), config.ChunkSize, config.MaxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancellingSink{cancel: cancel}
	summary, err := NewConverter(config).Run(ctx, reader, sink)
	require.NoError(t, err)
	assert.True(t, summary.Stopped)
	// The chunk in flight is completed
	assert.Equal(t, config.ChunkSize, sink.written)
}

func TestConverterTextInput(t *testing.T) {
	config := testConfiguration(t, 2)
	streams := make([]ChannelStream, 2)
	for ch := range streams {
		var buf bytes.Buffer
		for e := 0; e < 3; e++ {
			fmt.Fprintf(&buf, "Record Length: 1000\nBoardID: 7\nChannel: %d\nEvent Number: %d\n", ch, e)
			for _, v := range syntheticPulse(1000, 50) {
				buf.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32) + "\n")
			}
		}
		streams[ch] = NewTextStream(&buf, "wave.txt")
	}

	sink := &memorySink{}
	reader := NewChunkedReader(streams, config.ChunkSize, 2)
	summary, err := NewConverter(config).Run(context.Background(), reader, sink)
	require.NoError(t, err)
	require.Len(t, sink.events, 3)
	assert.Equal(t, 0, summary.Sync.InconsistentEvents)
	assert.InDelta(t, 11.0, sink.events[2].Features[1].TimeCFD[3], 1e-3)
}

type cancellingSink struct {
	cancel  context.CancelFunc
	written int
}

func (s *cancellingSink) WriteEvent(*ProcessedEvent) error {
	s.written++
	s.cancel()
	return nil
}

func (s *cancellingSink) Close() error { return nil }
