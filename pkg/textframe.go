package decoder

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxTextWarnings = 20

// TextFrameReader parses the digitizer's text export: blocks of "Key: value"
// lines followed by one sample per line. A key line seen after samples closes
// the current block.
type TextFrameReader struct {
	scanner   *bufio.Scanner
	name      string
	line      int
	current   ChannelEvent
	inSamples bool

	UnparseableSamples     int
	RecordLengthMismatches int
	warnings               int
}

func NewTextFrameReader(r io.Reader, name string) *TextFrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &TextFrameReader{scanner: scanner, name: name}
}

// ReadFrame returns the next non-empty block. Blocks without samples are
// dropped. The end of input closes the last block.
func (t *TextFrameReader) ReadFrame() (ChannelEvent, error) {
	for t.scanner.Scan() {
		t.line++
		trimmed := strings.TrimSpace(t.scanner.Text())
		if trimmed == "" {
			continue
		}

		if key, value, isKey := strings.Cut(trimmed, ":"); isKey {
			var done ChannelEvent
			var ok bool
			if t.inSamples {
				done, ok = t.finalize()
			}
			t.applyKey(strings.TrimSpace(key), strings.TrimSpace(value))
			if ok {
				return done, nil
			}
			continue
		}

		t.inSamples = true
		value, err := strconv.ParseFloat(trimmed, 32)
		if err != nil {
			t.UnparseableSamples++
			t.warn(fmt.Sprintf("%s:%d: skipping unparseable sample %q", t.name, t.line, trimmed))
			continue
		}
		t.current.Samples = append(t.current.Samples, float32(value))
	}
	if err := t.scanner.Err(); err != nil {
		return ChannelEvent{}, err
	}
	if done, ok := t.finalize(); ok {
		return done, nil
	}
	return ChannelEvent{}, io.EOF
}

func (t *TextFrameReader) finalize() (ChannelEvent, bool) {
	event := t.current
	t.current = ChannelEvent{}
	t.inSamples = false

	if len(event.Samples) == 0 {
		return ChannelEvent{}, false
	}
	if event.RecordLength == 0 {
		event.RecordLength = len(event.Samples)
	} else if event.RecordLength != len(event.Samples) {
		t.RecordLengthMismatches++
		t.warn(fmt.Sprintf("%s:%d: record length %d but %d samples read",
			t.name, t.line, event.RecordLength, len(event.Samples)))
	}
	event.Header.EventSize = uint32(HeaderSize + len(event.Samples)*SampleSize)
	return event, true
}

func (t *TextFrameReader) applyKey(key, value string) {
	switch key {
	case "Record Length":
		if n, err := strconv.Atoi(value); err == nil {
			t.current.RecordLength = n
		}
	case "BoardID":
		t.current.Header.BoardID = parseHeaderValue(value)
	case "Channel":
		t.current.Header.ChannelID = parseHeaderValue(value)
	case "Event Number":
		t.current.Header.EventCounter = parseHeaderValue(value)
	}
}

func (t *TextFrameReader) warn(message string) {
	t.warnings++
	if t.warnings <= maxTextWarnings {
		logger.Warn(message, "textframe")
	} else if t.warnings == maxTextWarnings+1 {
		logger.Warn(fmt.Sprintf("%s: further parse warnings suppressed", t.name), "textframe")
	}
}

// Accepts decimal and 0x-prefixed values.
func parseHeaderValue(value string) uint32 {
	n, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
