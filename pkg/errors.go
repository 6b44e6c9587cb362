package decoder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTruncatedFrame is returned when a frame header or payload is only
// partially available. The stream is left at the start of the frame so the
// read can be retried once the writer has flushed more data.
var ErrTruncatedFrame = errors.New("truncated frame")

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error {
	return e.Err
}

// ErrMalformedFrame reports a frame whose declared size cannot describe a
// float32 payload. It is fatal for the channel stream.
type ErrMalformedFrame struct {
	Channel   int
	Offset    int64
	EventSize uint32
	Reason    string
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("malformed frame on channel %d at offset %d (event size %d): %s",
		e.Channel, e.Offset, e.EventSize, e.Reason)
}

// ErrConsistency aborts a conversion under the "error" event policy.
type ErrConsistency struct {
	Trigger int
	Policy  EventPolicy
	Issues  []Issue
}

func (e *ErrConsistency) Error() string {
	msgs := make([]string, len(e.Issues))
	channels := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
		channels[i] = fmt.Sprintf("ch%d", issue.Channel)
	}
	return fmt.Sprintf("event_policy=%s violated at trigger %d (channels %s): %s",
		e.Policy, e.Trigger, strings.Join(channels, ","), strings.Join(msgs, "; "))
}

// ErrSampleCountMismatch aborts a conversion under the "strict" nsamples policy.
type ErrSampleCountMismatch struct {
	Trigger int
	Min     int
	Max     int
	Counts  []int
}

func (e *ErrSampleCountMismatch) Error() string {
	short := make([]string, 0)
	for ch, n := range e.Counts {
		if n != e.Max {
			short = append(short, fmt.Sprintf("ch%d=%d", ch, n))
		}
	}
	return fmt.Sprintf("nsamples_policy=%s violated at trigger %d: min %d, max %d samples (%s)",
		NsamplesStrict, e.Trigger, e.Min, e.Max, strings.Join(short, ","))
}
