package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ReadFrame decodes one binary frame. It returns io.EOF when the stream ends
// cleanly on a frame boundary and ErrTruncatedFrame when the frame is cut
// short, which for a live capture means "not yet written".
func ReadFrame(r io.Reader) (ChannelEvent, error) {
	var header FrameHeader
	headerBinary := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBinary); err != nil {
		return ChannelEvent{}, frameReadError(err)
	}

	headerReader := bytes.NewReader(headerBinary)
	binary.Read(headerReader, binary.LittleEndian, &header)

	nSamples, reason := header.NumSamples()
	if reason != "" {
		return ChannelEvent{}, &ErrMalformedFrame{Channel: -1, EventSize: header.EventSize, Reason: reason}
	}

	// The buffer grows with the bytes actually read, not the declared size
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, r, int64(nSamples*SampleSize)); err != nil {
		if errors.Is(err, io.EOF) {
			return ChannelEvent{}, ErrTruncatedFrame
		}
		return ChannelEvent{}, frameReadError(err)
	}

	return ChannelEvent{Header: header, Samples: decodeSamples(payload.Bytes())}, nil
}

func frameReadError(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedFrame
	}
	return err
}

func decodeSamples(payload []byte) []float32 {
	samples := make([]float32, len(payload)/SampleSize)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(payload[i*SampleSize:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// WriteFrame encodes samples as one binary frame. EventSize is derived from
// the number of samples.
func WriteFrame(w io.Writer, header FrameHeader, samples []float32) error {
	header.EventSize = uint32(HeaderSize + len(samples)*SampleSize)
	buf := make([]byte, 0, header.EventSize)
	buf, _ = binary.Append(buf, binary.LittleEndian, header)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s))
	}
	_, err := w.Write(buf)
	return err
}
