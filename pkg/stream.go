package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChannelStream yields the frames of one channel in file order.
type ChannelStream interface {
	ReadFrame() (ChannelEvent, error)
	Close() error
}

// StreamStats is implemented by streams that recover from bad input lines.
type StreamStats interface {
	ParseStats() (unparseable, recordLengthMismatches int)
}

// BinaryStream reads binary frames. When the last frame is truncated the
// underlying file is rewound to the frame start so a later read can pick it
// up once the digitizer has finished writing it.
type BinaryStream struct {
	channel int
	source  io.ReadSeeker
	closer  io.Closer
	reader  *bufio.Reader
	offset  int64
}

func NewBinaryStream(source io.ReadSeeker, channel int) *BinaryStream {
	s := &BinaryStream{
		channel: channel,
		source:  source,
		reader:  bufio.NewReaderSize(source, 1<<20),
	}
	if c, ok := source.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *BinaryStream) ReadFrame() (ChannelEvent, error) {
	event, err := ReadFrame(s.reader)
	if err == nil {
		s.offset += int64(event.Header.EventSize)
		return event, nil
	}

	if errors.Is(err, ErrTruncatedFrame) {
		if rewindErr := s.rewind(); rewindErr != nil {
			return ChannelEvent{}, errors.Join(err, rewindErr)
		}
		return ChannelEvent{}, err
	}

	var malformed *ErrMalformedFrame
	if errors.As(err, &malformed) {
		malformed.Channel = s.channel
		malformed.Offset = s.offset
	}
	return ChannelEvent{}, err
}

func (s *BinaryStream) rewind() error {
	if _, err := s.source.Seek(s.offset, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding channel %d to offset %d: %w", s.channel, s.offset, err)
	}
	s.reader.Reset(s.source)
	return nil
}

// Offset is the file position just after the last complete frame.
func (s *BinaryStream) Offset() int64 {
	return s.offset
}

func (s *BinaryStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type TextStream struct {
	*TextFrameReader
	closer io.Closer
}

func NewTextStream(r io.Reader, name string) *TextStream {
	s := &TextStream{TextFrameReader: NewTextFrameReader(r, name)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *TextStream) ParseStats() (int, int) {
	return s.UnparseableSamples, s.RecordLengthMismatches
}

func (s *TextStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ChannelFileName resolves the input file of a channel. The special channel
// reads its override file when enabled; absolute override paths are kept.
func ChannelFileName(config Configuration, channel int) string {
	if channel == config.SpecialChannel() {
		if filepath.IsAbs(config.SpecialChannelFile) {
			return config.SpecialChannelFile
		}
		return filepath.Join(config.InputDir, config.SpecialChannelFile)
	}
	name := fmt.Sprintf(config.InputPattern, channel)
	if config.InputDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(config.InputDir, name)
}

// OpenChannelStreams opens one stream per channel. Already opened files are
// closed if any channel fails to open.
func OpenChannelStreams(config Configuration) ([]ChannelStream, error) {
	streams := make([]ChannelStream, 0, config.NChannels)
	for ch := 0; ch < config.NChannels; ch++ {
		filename := ChannelFileName(config, ch)
		file, err := os.Open(filename)
		if err != nil {
			CloseStreams(streams)
			return nil, &ErrOpenFile{Filename: filename, Err: err}
		}
		if config.Verbosity > 0 {
			logger.Info(fmt.Sprintf("ch%d <- %s", ch, filename), "stream")
		}

		if config.InputIsASCII {
			streams = append(streams, NewTextStream(file, filename))
		} else {
			streams = append(streams, NewBinaryStream(file, ch))
		}
	}
	return streams, nil
}

func CloseStreams(streams []ChannelStream) error {
	var errs []error
	for _, s := range streams {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
