package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// lockedStream serializes access to one channel file. Each read of a chunk
// holds the lock for the whole batch so frames stay in file order.
type lockedStream struct {
	mu        sync.Mutex
	stream    ChannelStream
	eof       bool
	truncated bool
	pending   int
}

func (l *lockedStream) readBatch(n int) ([]ChannelEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.eof {
		return nil, nil
	}
	events := make([]ChannelEvent, 0, n)
	for i := 0; i < n; i++ {
		event, err := l.stream.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.eof = true
				break
			}
			if errors.Is(err, ErrTruncatedFrame) {
				l.eof = true
				l.truncated = true
				break
			}
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// Chunk holds up to chunkSize frames per channel, trimmed to the count that
// every channel could provide.
type Chunk struct {
	Number int
	Frames [][]ChannelEvent
	Events int
	Counts []int
}

// Event returns the frames of the i-th trigger of the chunk, one per channel.
func (c *Chunk) Event(i int) []ChannelEvent {
	frames := make([]ChannelEvent, len(c.Frames))
	for ch := range c.Frames {
		frames[ch] = c.Frames[ch][i]
	}
	return frames
}

type ChannelStatus struct {
	Channel   int
	EOF       bool
	Truncated bool
	// Frames read but left over because another channel ran out
	Pending                int
	UnparseableSamples     int
	RecordLengthMismatches int
}

// ChunkedReader reads all channels in parallel, chunkSize frames at a time.
// Output is identical to reading the channels one by one regardless of
// maxWorkers.
type ChunkedReader struct {
	streams    []*lockedStream
	chunkSize  int
	maxWorkers int
	verbosity  int
	number     int
	done       bool
}

func NewChunkedReader(streams []ChannelStream, chunkSize, maxWorkers int) *ChunkedReader {
	locked := make([]*lockedStream, len(streams))
	for i, s := range streams {
		locked[i] = &lockedStream{stream: s}
	}
	return &ChunkedReader{
		streams:    locked,
		chunkSize:  max(1, chunkSize),
		maxWorkers: max(1, maxWorkers),
	}
}

func (r *ChunkedReader) SetVerbosity(verbosity int) {
	r.verbosity = verbosity
}

// ReadChunk returns the next chunk or io.EOF. Cancellation is only checked
// before a chunk starts; a chunk in flight always completes. The reader stops
// after the first chunk in which any channel reached the end of its file.
func (r *ChunkedReader) ReadChunk(ctx context.Context) (*Chunk, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nChannels := len(r.streams)
	frames := make([][]ChannelEvent, nChannels)

	var g errgroup.Group
	g.SetLimit(r.maxWorkers)
	for ch, stream := range r.streams {
		g.Go(func() error {
			events, err := stream.readBatch(r.chunkSize)
			if err != nil {
				return fmt.Errorf("reading ch%d: %w", ch, err)
			}
			frames[ch] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.done = true
		return nil, err
	}

	counts := make([]int, nChannels)
	minCount := r.chunkSize
	anyEOF := false
	for ch, events := range frames {
		counts[ch] = len(events)
		minCount = min(minCount, len(events))
		anyEOF = anyEOF || r.streams[ch].eof
	}

	if minCount != maxInts(counts) {
		r.reportMismatch(counts, minCount)
	}
	for ch := range frames {
		r.streams[ch].pending += counts[ch] - minCount
		frames[ch] = frames[ch][:minCount]
	}

	if anyEOF {
		r.done = true
	}
	if minCount == 0 {
		return nil, io.EOF
	}

	chunk := &Chunk{Number: r.number, Frames: frames, Events: minCount, Counts: counts}
	r.number++
	if r.verbosity > 1 {
		logger.Info(fmt.Sprintf("chunk %d: %d triggers", chunk.Number, minCount), "reader")
	}
	return chunk, nil
}

func (r *ChunkedReader) reportMismatch(counts []int, minCount int) {
	parts := make([]string, len(counts))
	for ch, n := range counts {
		state := "more data"
		if r.streams[ch].truncated {
			state = "truncated"
		} else if r.streams[ch].eof {
			state = "EOF"
		}
		parts[ch] = fmt.Sprintf("ch%d=%d(%s)", ch, n, state)
	}
	message := fmt.Sprintf("chunk %d: channels ran out unevenly, keeping %d triggers: %s",
		r.number, minCount, strings.Join(parts, " "))
	logger.Warn(message, "reader")
}

// Status reports per-channel end-of-data state. Valid after the last chunk.
func (r *ChunkedReader) Status() []ChannelStatus {
	status := make([]ChannelStatus, len(r.streams))
	for ch, s := range r.streams {
		s.mu.Lock()
		status[ch] = ChannelStatus{
			Channel:   ch,
			EOF:       s.eof,
			Truncated: s.truncated,
			Pending:   s.pending,
		}
		if stats, ok := s.stream.(StreamStats); ok {
			status[ch].UnparseableSamples, status[ch].RecordLengthMismatches = stats.ParseStats()
		}
		s.mu.Unlock()
	}
	return status
}

func maxInts(values []int) int {
	m := 0
	for _, v := range values {
		m = max(m, v)
	}
	return m
}
