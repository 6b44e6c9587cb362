package decoder

import "fmt"

const (
	HeaderWords = 8
	HeaderSize  = HeaderWords * 4
	SampleSize  = 4

	// MaxRecordLength bounds the samples a single frame may declare. It is
	// well above the digitizer's longest record length.
	MaxRecordLength = 1 << 20
)

// FrameHeader is the digitizer event header:
// [eventSize, boardId, reserved, channelId, eventCounter, reserved x3].
type FrameHeader struct {
	EventSize    uint32
	BoardID      uint32
	Pattern      uint32
	ChannelID    uint32
	EventCounter uint32
	Reserved     [3]uint32
}

// NumSamples derives the float32 payload length from EventSize.
func (h FrameHeader) NumSamples() (int, string) {
	if h.EventSize <= HeaderSize {
		return 0, "event size does not exceed header size"
	}
	payloadBytes := h.EventSize - HeaderSize
	if payloadBytes%SampleSize != 0 {
		return 0, "payload not multiple of 4 bytes"
	}
	nSamples := int(payloadBytes / SampleSize)
	if nSamples > MaxRecordLength {
		return 0, fmt.Sprintf("%d samples exceed the maximum record length %d", nSamples, MaxRecordLength)
	}
	return nSamples, ""
}

// ChannelEvent is one decoded frame of one channel.
type ChannelEvent struct {
	Header  FrameHeader
	Samples []float32
	// Declared "Record Length" of a text block, 0 for binary frames
	RecordLength int
}

// SynchronizedEvent holds one frame per channel for a single trigger.
// TimeAxis is shared between events and must not be modified.
type SynchronizedEvent struct {
	TriggerIndex   int32
	Headers        []FrameHeader
	Samples        [][]float32
	RawSampleCount []int32
	MaxSamples     int
	MinSamples     int
	TimeAxis       []float32
	Padded         bool
	Skip           bool
	Issues         []Issue
}

type WaveformFeatures struct {
	Baseline     float32
	RmsNoise     float32
	Noise1Point  float32
	AmpMinBefore float32
	AmpMaxBefore float32

	HasSignal       bool
	AmpMax          float32
	PeakTime        float32
	Charge          float32
	SignalOverNoise float32

	RiseTime float32
	SlewRate float32

	// Indexed like the configured threshold lists
	TimeCFD    []float32
	JitterCFD  []float32
	TimeLE     []float32
	JitterLE   []float32
	TotLE      []float32
	TimeCharge []float32
}

// ProcessedEvent is handed to the Sink for every trigger that is written.
type ProcessedEvent struct {
	Trigger        int32
	Headers        []FrameHeader
	RawSampleCount []int32
	MaxSamples     int
	TimeAxis       []float32
	Pedestals      []float32
	// Raw samples padded with the channel pedestal up to MaxSamples
	Raw       [][]float32
	Corrected [][]float32
	Features  []WaveformFeatures
}
