package decoder

import (
	"gonum.org/v1/gonum/stat"
)

// PedestalCorrector shifts every waveform so the mean of its leading
// samples lands on a common target level.
type PedestalCorrector struct {
	Window int
	Target float32
}

func NewPedestalCorrector(window int, target float64) PedestalCorrector {
	return PedestalCorrector{Window: max(1, window), Target: float32(target)}
}

// Pedestal is the mean of the first min(len(raw), Window) samples,
// accumulated in float64. An empty waveform has pedestal 0.
func (p PedestalCorrector) Pedestal(raw []float32) float32 {
	n := min(len(raw), max(1, p.Window))
	if n == 0 {
		return 0
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(raw[i])
	}
	return float32(stat.Mean(values, nil))
}

// Correct returns the waveform of length maxSamples with the pedestal moved
// to Target. Samples past len(raw) are filled with Target.
func (p PedestalCorrector) Correct(raw []float32, maxSamples int) ([]float32, float32) {
	pedestal := p.Pedestal(raw)
	corrected := make([]float32, max(maxSamples, len(raw)))
	for i := range corrected {
		if i < len(raw) {
			corrected[i] = raw[i] - pedestal + p.Target
		} else {
			corrected[i] = p.Target
		}
	}
	return corrected, pedestal
}

// PadRaw extends raw to maxSamples with the pedestal value.
func PadRaw(raw []float32, maxSamples int, pedestal float32) []float32 {
	padded := make([]float32, max(maxSamples, len(raw)))
	n := copy(padded, raw)
	for i := n; i < len(padded); i++ {
		padded[i] = pedestal
	}
	return padded
}

// CorrectEvent builds the processed event for a synchronized trigger.
// Raw samples are only kept when withRaw is set.
func (p PedestalCorrector) CorrectEvent(event SynchronizedEvent, withRaw bool) *ProcessedEvent {
	nChannels := len(event.Samples)
	processed := &ProcessedEvent{
		Trigger:        event.TriggerIndex,
		Headers:        event.Headers,
		RawSampleCount: event.RawSampleCount,
		MaxSamples:     event.MaxSamples,
		TimeAxis:       event.TimeAxis,
		Pedestals:      make([]float32, nChannels),
		Corrected:      make([][]float32, nChannels),
		Features:       make([]WaveformFeatures, nChannels),
	}
	if withRaw {
		processed.Raw = make([][]float32, nChannels)
	}
	for ch, raw := range event.Samples {
		processed.Corrected[ch], processed.Pedestals[ch] = p.Correct(raw, event.MaxSamples)
		if withRaw {
			processed.Raw[ch] = PadRaw(raw, event.MaxSamples, processed.Pedestals[ch])
		}
	}
	return processed
}
