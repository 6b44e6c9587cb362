package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	samples := []float32{1.5, -2.25, 3500, 0}
	data := encodeFrames(t, []frameFixture{{board: 3, channel: 5, counter: 42, samples: samples}})
	require.Len(t, data, HeaderSize+4*len(samples))

	r := bytes.NewReader(data)
	event, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(48), event.Header.EventSize)
	assert.Equal(t, uint32(3), event.Header.BoardID)
	assert.Equal(t, uint32(5), event.Header.ChannelID)
	assert.Equal(t, uint32(42), event.Header.EventCounter)
	assert.Equal(t, samples, event.Samples)

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	data := encodeFrames(t, []frameFixture{{samples: []float32{1, 2, 3}}})

	for _, cut := range []int{1, HeaderSize - 1, HeaderSize, HeaderSize + 5, len(data) - 1} {
		_, err := ReadFrame(bytes.NewReader(data[:cut]))
		assert.ErrorIs(t, err, ErrTruncatedFrame, "cut at %d", cut)
	}
}

func TestReadFrameMalformed(t *testing.T) {
	for _, size := range []uint32{0, HeaderSize, HeaderSize + 6} {
		var buf bytes.Buffer
		header := make([]byte, HeaderSize)
		header[0] = byte(size)
		buf.Write(header)
		buf.Write(make([]byte, 16))

		_, err := ReadFrame(&buf)
		var malformed *ErrMalformedFrame
		require.True(t, errors.As(err, &malformed), "size %d", size)
		assert.Equal(t, size, malformed.EventSize)
	}
}

func TestReadFrameOversizedHeader(t *testing.T) {
	for _, size := range []uint32{0xFFFFFFFC, HeaderSize + (MaxRecordLength+1)*SampleSize} {
		header := make([]byte, HeaderSize)
		binary.LittleEndian.PutUint32(header, size)
		data := append(header, 0, 0, 0x80, 0x3f)

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		_, err := ReadFrame(bytes.NewReader(data))
		runtime.ReadMemStats(&after)

		var malformed *ErrMalformedFrame
		require.True(t, errors.As(err, &malformed), "size %#x: %v", size, err)
		assert.Equal(t, size, malformed.EventSize)
		assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "size %#x", size)
	}
}

func TestReadFrameLargeDeclaredShortPayload(t *testing.T) {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header, HeaderSize+MaxRecordLength*SampleSize)
	data := append(header, make([]byte, 64)...)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadFrame(bytes.NewReader(data))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrTruncatedFrame)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestBinaryStreamRewindsTruncatedFrame(t *testing.T) {
	first := encodeFrames(t, []frameFixture{{counter: 0, samples: []float32{1, 2}}})
	second := encodeFrames(t, []frameFixture{{counter: 1, samples: []float32{3, 4}}})

	file := &growingFile{data: append(append([]byte{}, first...), second[:HeaderSize+2]...)}
	stream := NewBinaryStream(file, 0)

	event, err := stream.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), event.Header.EventCounter)

	_, err = stream.ReadFrame()
	require.ErrorIs(t, err, ErrTruncatedFrame)
	assert.Equal(t, int64(len(first)), stream.Offset())

	// The writer finishes the frame
	file.data = append(file.data[:len(first)], second...)
	event, err = stream.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), event.Header.EventCounter)
	assert.Equal(t, []float32{3, 4}, event.Samples)
}

func TestBinaryStreamMalformedReportsPosition(t *testing.T) {
	good := encodeFrames(t, []frameFixture{{samples: []float32{1}}})
	bad := make([]byte, HeaderSize+8)
	bad[0] = HeaderSize + 2

	stream := NewBinaryStream(bytes.NewReader(append(good, bad...)), 6)
	_, err := stream.ReadFrame()
	require.NoError(t, err)

	_, err = stream.ReadFrame()
	var malformed *ErrMalformedFrame
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 6, malformed.Channel)
	assert.Equal(t, int64(len(good)), malformed.Offset)
}

// growingFile is a ReadSeeker whose content can be extended between reads.
type growingFile struct {
	data []byte
	pos  int64
}

func (f *growingFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *growingFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.data)) + offset
	}
	return f.pos, nil
}
