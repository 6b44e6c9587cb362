package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sink receives processed events in trigger order.
type Sink interface {
	WriteEvent(event *ProcessedEvent) error
	Close() error
}

type RunSummary struct {
	Chunks          int
	TriggersRead    int
	TriggersWritten int
	// Skipped through the skip option, not through the event policy
	TriggersSkipped   int
	DegradedWaveforms int
	Stopped           bool
	LimitReached      bool
	Elapsed           time.Duration
	started           time.Time
	Sync              SyncStats
	Channels          []ChannelStatus
}

// Converter runs the pipeline: synchronize, pedestal-correct, extract
// features and hand events to the sink.
type Converter struct {
	config   Configuration
	sync     *Synchronizer
	pedestal PedestalCorrector
	channels []ChannelAnalysis
}

func NewConverter(config Configuration) *Converter {
	channels := make([]ChannelAnalysis, config.NChannels)
	for ch := range channels {
		channels[ch] = config.Analysis.Channel(ch)
	}
	return &Converter{
		config:   config,
		sync:     NewSynchronizer(config),
		pedestal: NewPedestalCorrector(config.PedestalWindow, config.PedTarget),
		channels: channels,
	}
}

// Run drains the reader. A cancelled context stops the run between chunks;
// everything read up to that point has been written.
func (c *Converter) Run(ctx context.Context, reader *ChunkedReader, sink Sink) (RunSummary, error) {
	var summary RunSummary
	summary.started = time.Now()

	trigger := 0
	for !summary.LimitReached {
		if ctx.Err() != nil {
			logger.Warn("stop requested, finishing after the current chunk", "converter")
			summary.Stopped = true
			break
		}

		chunk, err := reader.ReadChunk(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			summary.Stopped = true
			break
		}
		if err != nil {
			return c.finish(summary, reader), err
		}
		summary.Chunks++

		events := make([]*ProcessedEvent, 0, chunk.Events)
		for i := 0; i < chunk.Events; i++ {
			if c.config.MaxEvents >= 0 && summary.TriggersRead >= c.config.MaxEvents {
				summary.LimitReached = true
				break
			}
			synced, err := c.sync.Synchronize(trigger, chunk.Event(i))
			if err != nil {
				return c.finish(summary, reader), err
			}
			trigger++
			summary.TriggersRead++

			if synced.Skip {
				continue
			}
			if int(synced.TriggerIndex) < c.config.Skip {
				summary.TriggersSkipped++
				continue
			}
			events = append(events, c.pedestal.CorrectEvent(synced, c.config.WriteRaw))
		}

		if err := c.extract(events); err != nil {
			return c.finish(summary, reader), err
		}
		for _, event := range events {
			summary.DegradedWaveforms += countDegraded(event)
			if err := sink.WriteEvent(event); err != nil {
				return c.finish(summary, reader), fmt.Errorf("writing trigger %d: %w", event.Trigger, err)
			}
			summary.TriggersWritten++
		}
		if c.config.Verbosity > 0 {
			logger.Info(fmt.Sprintf("chunk %d done, %d triggers written", chunk.Number, summary.TriggersWritten), "converter")
		}
	}
	return c.finish(summary, reader), nil
}

func (c *Converter) finish(summary RunSummary, reader *ChunkedReader) RunSummary {
	summary.Elapsed = time.Since(summary.started)
	summary.Sync = c.sync.Stats()
	summary.Channels = reader.Status()
	return summary
}

// extract computes features for every event and channel of a chunk. Results
// are stored by index so the output order does not depend on scheduling.
func (c *Converter) extract(events []*ProcessedEvent) error {
	var g errgroup.Group
	g.SetLimit(c.config.MaxWorkers)
	for _, event := range events {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic extracting features of trigger %d: %v", event.Trigger, r)
				}
			}()
			c.ExtractEvent(event)
			return nil
		})
	}
	return g.Wait()
}

// ExtractEvent fills event.Features. Each channel is analysed over its own
// sample count so padding never enters the features.
func (c *Converter) ExtractEvent(event *ProcessedEvent) {
	for ch, corrected := range event.Corrected {
		n := min(int(event.RawSampleCount[ch]), len(corrected), len(event.TimeAxis))
		event.Features[ch] = ExtractFeatures(corrected[:n], event.TimeAxis[:n], c.channels[ch])
	}
}

func countDegraded(event *ProcessedEvent) int {
	degraded := 0
	for _, n := range event.RawSampleCount {
		if n == 0 {
			degraded++
		}
	}
	return degraded
}

// Log writes the end-of-run report.
func (s RunSummary) Log(warnLimit int) {
	logger.Info(fmt.Sprintf("%d triggers read, %d written, %d skipped in %d chunks (%v)",
		s.TriggersRead, s.TriggersWritten, s.TriggersSkipped, s.Chunks, s.Elapsed.Round(time.Millisecond)), "summary")
	if s.Sync.PaddedEvents > 0 {
		logger.Info(fmt.Sprintf("%d triggers padded to the longest channel", s.Sync.PaddedEvents), "summary")
	}
	if s.Sync.InconsistentEvents > 0 {
		message := fmt.Sprintf("%d inconsistent triggers (eventCounter %d, boardId %d, channelId %d), %d dropped",
			s.Sync.InconsistentEvents,
			s.Sync.IssueEvents[IssueEventCounter],
			s.Sync.IssueEvents[IssueBoardID],
			s.Sync.IssueEvents[IssueChannelID],
			s.Sync.SkippedEvents)
		logger.Warn(message, "summary")
	}
	if s.Sync.SuppressedMessages > 0 {
		logger.Warn(fmt.Sprintf("%d consistency warnings suppressed after warn_limit %d",
			s.Sync.SuppressedMessages, warnLimit), "summary")
	}
	if s.DegradedWaveforms > 0 {
		logger.Warn(fmt.Sprintf("%d empty waveforms got default features", s.DegradedWaveforms), "summary")
	}
	for _, ch := range s.Channels {
		switch {
		case ch.Truncated:
			logger.Warn(fmt.Sprintf("ch%d: last frame incomplete", ch.Channel), "summary")
		case ch.Pending > 0:
			logger.Warn(fmt.Sprintf("ch%d: %d frames left without partners", ch.Channel, ch.Pending), "summary")
		case !ch.EOF && !s.Stopped && !s.LimitReached:
			logger.Warn(fmt.Sprintf("ch%d: more data in file", ch.Channel), "summary")
		}
		if ch.UnparseableSamples > 0 || ch.RecordLengthMismatches > 0 {
			logger.Warn(fmt.Sprintf("ch%d: %d unparseable samples, %d record length mismatches",
				ch.Channel, ch.UnparseableSamples, ch.RecordLengthMismatches), "summary")
		}
	}
}
