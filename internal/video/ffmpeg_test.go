package video

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

// openStream pipes raw bytes through a subprocess so the stream sees the
// same pipe semantics it gets from ffmpeg.
func openStream(t *testing.T, data []byte) *mjpegStream {
	t.Helper()

	path := filepath.Join(t.TempDir(), "frames.mjpeg")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cmd := exec.Command("cat", path)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	stream := &mjpegStream{
		cmd:    cmd,
		r:      bufio.NewReaderSize(stdout, 1<<20),
		closer: stdout,
	}
	t.Cleanup(func() { stream.Close() })
	return stream
}

func TestMJPEGStream_DecodesEveryConcatenatedImage(t *testing.T) {
	var data []byte
	data = append(data, encodeJPEG(t, 320, 240)...)
	data = append(data, encodeJPEG(t, 320, 240)...)
	data = append(data, encodeJPEG(t, 160, 120)...)

	stream := openStream(t, data)

	sizes := []image.Point{{X: 320, Y: 240}, {X: 320, Y: 240}, {X: 160, Y: 120}}
	for i, want := range sizes {
		frame, err := stream.Next()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, i, frame.Index)
		assert.Equal(t, want, frame.Image.Bounds().Size())
	}

	_, err := stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGStream_FillBytesBetweenImages(t *testing.T) {
	var data []byte
	data = append(data, encodeJPEG(t, 64, 64)...)
	// Fill bytes directly before the next SOI marker
	data = append(data, 0xff, 0xff)
	data = append(data, encodeJPEG(t, 64, 64)...)

	stream := openStream(t, data)

	for i := 0; i < 2; i++ {
		frame, err := stream.Next()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, i, frame.Index)
	}

	_, err := stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGStream_EmptyStream(t *testing.T) {
	stream := openStream(t, nil)

	_, err := stream.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFrames))
}

func TestMJPEGStream_TruncatedImage(t *testing.T) {
	first := encodeJPEG(t, 64, 64)
	second := encodeJPEG(t, 64, 64)

	var data []byte
	data = append(data, first...)
	// Second image cut off before its EOI marker
	data = append(data, second[:len(second)-2]...)

	stream := openStream(t, data)

	frame, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Index)

	_, err = stream.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestMJPEGStream_NextAfterClose(t *testing.T) {
	stream := openStream(t, encodeJPEG(t, 64, 64))
	require.NoError(t, stream.Close())

	_, err := stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}
