package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hmartell/damagescan/internal/domain"
)

// =============================================================================
// FFmpeg Frame Source
// =============================================================================

// FFmpegSource implements FrameSource by piping an MJPEG stream out of
// ffmpeg and decoding one JPEG per frame.
type FFmpegSource struct {
	// FFmpegPath overrides the ffmpeg binary; defaults to "ffmpeg" on PATH.
	FFmpegPath string

	logger *slog.Logger
}

// NewFFmpegSource creates a frame source backed by the ffmpeg binary.
func NewFFmpegSource(logger *slog.Logger) *FFmpegSource {
	return &FFmpegSource{FFmpegPath: "ffmpeg", logger: logger}
}

// Open starts an ffmpeg process decoding path into a stream of JPEG frames.
func (s *FFmpegSource) Open(ctx context.Context, path string) (FrameStream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, wrapf(ErrNotReadable, "stat %q", path)
	}

	cmd := exec.CommandContext(ctx, s.FFmpegPath,
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, wrapf(ErrNotReadable, "pipe %q", path)
	}
	if err := cmd.Start(); err != nil {
		return nil, wrapf(ErrNotReadable, "start ffmpeg for %q", path)
	}

	s.logger.Debug("opened frame stream", "path", path)

	return &mjpegStream{
		cmd:    cmd,
		r:      bufio.NewReaderSize(stdout, 1<<20),
		closer: stdout,
	}, nil
}

// mjpegStream decodes sequential JPEG images from a single ffmpeg pipe.
//
// Images are split on their SOI/EOI markers before decoding. jpeg.Decode
// cannot read from the shared pipe directly: its internal buffering consumes
// bytes past one image's EOI, swallowing the start of the next frame.
type mjpegStream struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	closer io.Closer
	index  int
	closed bool
}

// JPEG marker bytes. Every image runs from an SOI marker (FFD8) through its
// EOI marker (FFD9); entropy-coded data byte-stuffs 0xFF as FF00, so a bare
// FFD9 inside an image cannot occur.
const (
	markerPrefix = 0xff
	markerSOI    = 0xd8
	markerEOI    = 0xd9
)

// Next decodes the next frame. Returns io.EOF when ffmpeg finishes.
func (m *mjpegStream) Next() (Frame, error) {
	if m.closed {
		return Frame{}, io.EOF
	}

	data, err := m.readImage()
	if err != nil {
		if err == io.EOF {
			// Stream drained; reap the process before reporting EOF so a
			// decode failure inside ffmpeg surfaces as an error, not silent
			// truncation.
			if waitErr := m.finish(); waitErr != nil {
				return Frame{}, waitErr
			}
			return Frame{}, io.EOF
		}
		m.Close()
		return Frame{}, fmt.Errorf("read frame %d: %w", m.index, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		m.Close()
		return Frame{}, fmt.Errorf("decode frame %d: %w", m.index, err)
	}

	frame := Frame{Index: m.index, Image: img}
	m.index++
	return frame, nil
}

// readImage extracts the bytes of one complete JPEG from the pipe, SOI
// through EOI. Returns io.EOF only when the stream drains cleanly before the
// next image starts; EOF mid-image is reported as truncation.
func (m *mjpegStream) readImage() ([]byte, error) {
	// Skip to the next SOI marker
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != markerPrefix {
			continue
		}
		next, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == markerSOI {
			break
		}
		if next == markerPrefix {
			// A run of fill bytes may immediately precede the marker
			if err := m.r.UnreadByte(); err != nil {
				return nil, err
			}
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 64<<10))
	buf.WriteByte(markerPrefix)
	buf.WriteByte(markerSOI)

	prev := byte(0)
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("image truncated: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		buf.WriteByte(b)
		if prev == markerPrefix && b == markerEOI {
			return buf.Bytes(), nil
		}
		prev = b
	}
}

func (m *mjpegStream) finish() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.cmd.Wait(); err != nil {
		return wrapf(ErrNotReadable, "ffmpeg exited: %v", err)
	}
	if m.index == 0 {
		return ErrNoFrames
	}
	return nil
}

// Close terminates the decoder process if it is still running.
func (m *mjpegStream) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.closer.Close()
	if m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	m.cmd.Wait()
	return nil
}

// =============================================================================
// FFprobe Metadata Prober
// =============================================================================

// FFprobeProber implements Prober using the ffprobe binary.
type FFprobeProber struct {
	// FFprobePath overrides the ffprobe binary; defaults to "ffprobe" on PATH.
	FFprobePath string

	logger *slog.Logger
}

// NewFFprobeProber creates a metadata prober backed by ffprobe.
func NewFFprobeProber(logger *slog.Logger) *FFprobeProber {
	return &FFprobeProber{FFprobePath: "ffprobe", logger: logger}
}

// ffprobeOutput mirrors the subset of ffprobe JSON we consume.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe extracts metadata for the video at path.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (*domain.VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, wrapf(ErrNotReadable, "ffprobe %q", path)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %q: %w", path, err)
	}

	meta := &domain.VideoMetadata{Format: domain.FormatFromPath(path)}
	meta.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	meta.FileSize, _ = strconv.ParseInt(probed.Format.Size, 10, 64)
	meta.Bitrate, _ = strconv.ParseInt(probed.Format.BitRate, 10, 64)

	for _, stream := range probed.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.Codec = stream.CodecName
		meta.FPS = parseFrameRate(stream.RFrameRate)
		meta.FrameCount, _ = strconv.Atoi(stream.NbFrames)
		break
	}

	// Some containers omit nb_frames; derive it from duration and fps.
	if meta.FrameCount == 0 && meta.FPS > 0 && meta.Duration > 0 {
		meta.FrameCount = int(meta.Duration * meta.FPS)
	}

	if err := meta.Validate(); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, "video.Probe",
			fmt.Sprintf("file %q is not a valid video", path))
	}

	p.logger.Debug("probed video",
		"path", path,
		"resolution", meta.Resolution(),
		"fps", meta.FPS,
		"frames", meta.FrameCount,
	)

	return meta, nil
}

// parseFrameRate converts ffprobe's fractional rate (e.g. "30000/1001").
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(rate, 64)
	return f
}
